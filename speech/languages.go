package speech

// LanguageOption is a recognition language a host can offer in a picker.
type LanguageOption struct {
	Tag  string // BCP-47, as accepted by SetLanguage
	Name string // the language's own name for itself
}

var supportedLanguages = []LanguageOption{
	{"zh-CN", "简体中文"},
	{"zh-TW", "繁體中文"},
	{"en-US", "English (US)"},
	{"en-GB", "English (UK)"},
	{"ja-JP", "日本語"},
	{"ko-KR", "한국어"},
	{"es-ES", "Español"},
	{"fr-FR", "Français"},
	{"de-DE", "Deutsch"},
}

// SupportedLanguages returns the common recognition languages. SetLanguage
// accepts any valid tag; this list is what hosts offer by default.
func SupportedLanguages() []LanguageOption {
	return append([]LanguageOption(nil), supportedLanguages...)
}
