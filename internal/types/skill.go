package types

// SkillRequirement narrows a candidate pool
type SkillRequirement struct {
	SkillID  string `json:"skillId"`
	MinLevel int    `json:"minLevel,omitempty"`
	Required bool   `json:"required"`
}

// UserSkill is one user's proficiency in one skill
type UserSkill struct {
	UserID  string `json:"userId"`
	SkillID string `json:"skillId"`
	Level   int    `json:"level"` // 1-5
}
