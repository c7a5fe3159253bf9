package cache

import "fmt"

// Key builders for template cache entries. Keys are logical; the cache
// client namespaces them under its configured prefix.

// TemplatesAllKey is the cache key for the full template list.
const TemplatesAllKey = "templates:all"

// TemplateIDKey is the cache key for a template looked up by ID.
func TemplateIDKey(id string) string {
	return fmt.Sprintf("template:id:%s", id)
}

// TemplateNameLangKey is the cache key for a template looked up by name
// and language.
func TemplateNameLangKey(name, language string) string {
	return fmt.Sprintf("template:name:%s:lang:%s", name, language)
}

// TemplatesChannelKey is the cache key for the list of templates
// serving one delivery channel.
func TemplatesChannelKey(channel string) string {
	return fmt.Sprintf("templates:channel:%s", channel)
}
