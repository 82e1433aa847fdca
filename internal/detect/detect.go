// Package detect 持有固定的敏感信息模式目录，并对识别出的文本做匹配。
//
// 约束：
// - 目录是固定的（不做运行时扩展）：规则集合本身就是产品契约的一部分
// - 每条规则无状态、独立求值；一段文本可以命中零到多个类别，全部上报
// - 匹配不区分大小写；不做 first-match 短路
package detect

import "regexp"

// 敏感类别名（与审计记录的 type 字段一致，对外稳定）。
const (
	CategoryOpenAIKey  = "openai_key"
	CategoryAWSKey     = "aws_key"
	CategoryCloudAK    = "huawei_ak"
	CategoryPassword   = "password"
	CategoryIDCard     = "id_card"
	CategoryPhone      = "phone"
	CategoryEmail      = "email"
	CategoryCreditCard = "credit_card"
)

// Rule 是一条命名的匹配规则。Pattern 编译一次，之后只读。
type Rule struct {
	Category string
	Pattern  *regexp.Regexp
}

// rules 是固定目录。顺序决定同一文本内多类别命中的上报顺序（保持稳定）。
var rules = []Rule{
	{CategoryOpenAIKey, regexp.MustCompile(`(?i)sk-[A-Za-z0-9]{48}`)},
	{CategoryAWSKey, regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`)},
	{CategoryCloudAK, regexp.MustCompile(`(?i)[A-Z0-9]{20}`)},
	{CategoryPassword, regexp.MustCompile(`(?i)password[:\s=]+\S+`)},
	{CategoryIDCard, regexp.MustCompile(`\d{17}[\dXx]`)},
	{CategoryPhone, regexp.MustCompile(`1[3-9]\d{9}`)},
	{CategoryEmail, regexp.MustCompile(`(?i)[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{CategoryCreditCard, regexp.MustCompile(`\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}`)},
}

// Rules 返回目录的只读视图（测试与文档用）。
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Match 是一次命中：类别 + 命中的子串及其在原文本中的位置。
type Match struct {
	Category string
	Text     string
	Start    int
	End      int
}

// Scan 对一段识别文本求值全部规则，返回所有命中。
// 返回顺序：先按规则目录顺序，再按文本内出现位置。
func Scan(text string) []Match {
	if text == "" {
		return nil
	}
	var out []Match
	for _, r := range rules {
		for _, loc := range r.Pattern.FindAllStringIndex(text, -1) {
			out = append(out, Match{
				Category: r.Category,
				Text:     text[loc[0]:loc[1]],
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	return out
}
