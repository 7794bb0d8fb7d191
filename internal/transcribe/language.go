package transcribe

import "strings"

// Language is an optional language hint. The zero value means auto-detect.
type Language struct {
	code string
}

// Auto asks the model to detect the language.
func Auto() Language { return Language{} }

// Force pins decoding to an ISO-639-1 code such as "en". An empty code is
// the same as Auto.
func Force(code string) Language {
	return Language{code: strings.ToLower(strings.TrimSpace(code))}
}

// Code returns the forced code, if any.
func (l Language) Code() (string, bool) {
	return l.code, l.code != ""
}

func (l Language) String() string {
	if l.code == "" {
		return "auto"
	}
	return l.code
}

// languageNames maps the English names some APIs report back to codes.
var languageNames = map[string]string{
	"afrikaans": "af", "arabic": "ar", "armenian": "hy", "azerbaijani": "az",
	"belarusian": "be", "bosnian": "bs", "bulgarian": "bg", "catalan": "ca",
	"chinese": "zh", "croatian": "hr", "czech": "cs", "danish": "da",
	"dutch": "nl", "english": "en", "estonian": "et", "finnish": "fi",
	"french": "fr", "galician": "gl", "german": "de", "greek": "el",
	"hebrew": "he", "hindi": "hi", "hungarian": "hu", "icelandic": "is",
	"indonesian": "id", "italian": "it", "japanese": "ja", "kannada": "kn",
	"kazakh": "kk", "korean": "ko", "latvian": "lv", "lithuanian": "lt",
	"macedonian": "mk", "malay": "ms", "marathi": "mr", "maori": "mi",
	"nepali": "ne", "norwegian": "no", "persian": "fa", "polish": "pl",
	"portuguese": "pt", "romanian": "ro", "russian": "ru", "serbian": "sr",
	"slovak": "sk", "slovenian": "sl", "spanish": "es", "swahili": "sw",
	"swedish": "sv", "tagalog": "tl", "tamil": "ta", "thai": "th",
	"turkish": "tr", "ukrainian": "uk", "urdu": "ur", "vietnamese": "vi",
	"welsh": "cy",
}

// normalizeLanguage turns a reported language (code or English name) into a
// lowercase code. Unknown names are passed through lowercased.
func normalizeLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, ok := languageNames[s]; ok {
		return code
	}
	return s
}
