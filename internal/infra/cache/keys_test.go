package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rickymta/isra-notification-service/internal/infra/cache"
)

func TestTemplateKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "template:id:tpl-1", cache.TemplateIDKey("tpl-1"))
	assert.Equal(t, "template:name:welcome:lang:en", cache.TemplateNameLangKey("welcome", "en"))
	assert.Equal(t, "templates:channel:email", cache.TemplatesChannelKey("email"))
	assert.Equal(t, "templates:all", cache.TemplatesAllKey)
}
