package providers

// DefaultSites is the built-in selector set for each provider.
var DefaultSites = map[Kind]Site{
	ChatGPT: {
		Kind:             ChatGPT,
		URL:              "https://chat.openai.com/",
		Model:            "chatgpt-web",
		InputSelector:    `textarea[placeholder*="Message"]`,
		ResponseSelector: `[data-message-author-role="assistant"]`,
		DoneSelector:     `button:has-text("Stop generating")`,
	},
	Claude: {
		Kind:             Claude,
		URL:              "https://claude.ai/new",
		Model:            "claude-web",
		InputSelector:    `div[contenteditable="true"]`,
		ResponseSelector: `.font-claude-message`,
		DoneSelector:     `button:has-text("Copy")`,
		DoneVisible:      true,
	},
	Gemini: {
		Kind:             Gemini,
		URL:              "https://gemini.google.com/app",
		Model:            "gemini-web",
		InputSelector:    `rich-textarea`,
		ResponseSelector: `.model-response-text`,
		DoneSelector:     `button[aria-label*="Stop"]:not([aria-disabled="true"])`,
	},
	DeepSeek: {
		Kind:             DeepSeek,
		URL:              "https://chat.deepseek.com/",
		Model:            "deepseek-web",
		InputSelector:    `textarea[placeholder*="Ask"]`,
		ResponseSelector: `.message-content.assistant`,
		DoneSelector:     `button[aria-label*="Stop"]:not([aria-disabled="true"])`,
	},
}

// DefaultSite returns the built-in description for k.
func DefaultSite(k Kind) (Site, bool) {
	s, ok := DefaultSites[k]
	return s, ok
}
