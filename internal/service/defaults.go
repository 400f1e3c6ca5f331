package service

// Defaults returns the built-in catalog used when configuration does not
// define its own services.
func Defaults() []Service {
	return []Service{
		{
			ID:        "openai",
			Name:      "OpenAI GPT-4",
			Category:  CategoryText,
			KeyFormat: "sk-...",
			Website:   "https://platform.openai.com/api-keys",
			Prefix:    "sk-",
			MinLength: 20,
			EnvVar:    "OPENAI_API_KEY",
		},
		{
			ID:        "claude",
			Name:      "Claude (Anthropic)",
			Category:  CategoryText,
			KeyFormat: "sk-ant-...",
			Website:   "https://console.anthropic.com/",
			Prefix:    "sk-ant-",
			MinLength: 20,
			EnvVar:    "ANTHROPIC_API_KEY",
		},
		{
			ID:        "jasper",
			Name:      "Jasper AI",
			Category:  CategoryText,
			KeyFormat: "API key",
			Website:   "https://app.jasper.ai/settings/billing",
			MinLength: 16,
			EnvVar:    "JASPER_API_KEY",
		},
		{
			ID:        "writesonic",
			Name:      "Writesonic",
			Category:  CategoryText,
			KeyFormat: "API key",
			Website:   "https://app.writesonic.com/setting/api-keys",
			MinLength: 16,
			EnvVar:    "WRITESONIC_API_KEY",
		},
		{
			ID:        "dalle",
			Name:      "DALL-E 3",
			Category:  CategoryVisual,
			KeyFormat: "sk-...",
			Website:   "https://platform.openai.com/api-keys",
			Prefix:    "sk-",
			MinLength: 20,
			EnvVar:    "OPENAI_API_KEY",
		},
		{
			ID:        "stability",
			Name:      "Stable Diffusion",
			Category:  CategoryVisual,
			KeyFormat: "sk-...",
			Website:   "https://platform.stability.ai/account/keys",
			Prefix:    "sk-",
			MinLength: 20,
			EnvVar:    "STABILITY_API_KEY",
		},
		{
			ID:        "runwayml",
			Name:      "RunwayML",
			Category:  CategoryVideo,
			KeyFormat: "API key",
			Website:   "https://app.runwayml.com/account",
			MinLength: 16,
			EnvVar:    "RUNWAYML_API_KEY",
		},
		{
			ID:        "synthesia",
			Name:      "Synthesia",
			Category:  CategoryVideo,
			KeyFormat: "API key",
			Website:   "https://app.synthesia.io/settings/api",
			MinLength: 16,
			EnvVar:    "SYNTHESIA_API_KEY",
		},
		{
			ID:        "elevenlabs",
			Name:      "ElevenLabs",
			Category:  CategoryAudio,
			KeyFormat: "API key",
			Website:   "https://elevenlabs.io/settings/api-keys",
			MinLength: 20,
			EnvVar:    "ELEVENLABS_API_KEY",
		},
		{
			ID:        "murf",
			Name:      "Murf AI",
			Category:  CategoryAudio,
			KeyFormat: "API key",
			Website:   "https://murf.ai/settings/api",
			MinLength: 16,
			EnvVar:    "MURF_API_KEY",
		},
	}
}
