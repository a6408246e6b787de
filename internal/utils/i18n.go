package utils

// Server-side messages only. Question and report text comes from the variant
// definitions.
var translations = map[string]map[string]string{
	"en": {
		"health.ok":                      "ok",
		"error.invalid":                  "The request is invalid.",
		"error.not_found":                "Not found.",
		"error.conflict":                 "This already exists.",
		"error.unauthorized":             "Email or password is incorrect.",
		"error.bad_gateway":              "An upstream service failed. Please try again later.",
		"error.not_authenticated":        "Please sign in to continue.",
		"error.session_not_found":        "This assessment session could not be found.",
		"error.already_completed":        "This assessment has already been submitted.",
		"error.prerequisites_incomplete": "Finish the learning modules before starting the assessment.",
		"error.validation_failed":        "Some answers are missing or invalid.",
		"error.persistence_failed":       "Your answers could not be saved. Please try again.",
	},
	"zh": {
		"health.ok":                      "好的",
		"error.invalid":                  "请求无效。",
		"error.not_found":                "未找到。",
		"error.conflict":                 "该记录已存在。",
		"error.unauthorized":             "邮箱或密码错误。",
		"error.bad_gateway":              "上游服务出错，请稍后再试。",
		"error.not_authenticated":        "请先登录。",
		"error.session_not_found":        "找不到该测评会话。",
		"error.already_completed":        "该测评已经提交。",
		"error.prerequisites_incomplete": "请先完成学习模块再开始测评。",
		"error.validation_failed":        "部分答案缺失或无效。",
		"error.persistence_failed":       "答案保存失败，请重试。",
	},
}

// T returns the translated string for key in locale; falls back to English,
// then to the key itself.
func T(locale, key string) string {
	if v, ok := translations[locale][key]; ok {
		return v
	}
	if v, ok := translations["en"][key]; ok {
		return v
	}
	return key
}
