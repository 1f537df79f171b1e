// Package prompts embeds the system prompts used by the agent pipeline.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
