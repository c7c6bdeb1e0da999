// Package services implements the generative backends used by the chat orchestrator: text
// streaming, image prompt enhancement, image synthesis and the enhanced prompt cache.
package services

// Parameters holds optional sampling parameters passed to text models. Nil fields are left to the
// backend's defaults.
type Parameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
	Stop        []string `yaml:"stop"`
	Seed        *int     `yaml:"seed"`
}
