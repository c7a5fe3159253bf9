package template_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/domain/template"
)

func validTemplate() *template.NotificationTemplate {
	return &template.NotificationTemplate{
		Name:      "welcome",
		Language:  "en",
		Channel:   notification.ChannelEmail,
		Subject:   "Welcome, {{Name}}!",
		Body:      "Hello {{Name}}.",
		Variables: []string{"Name"},
		IsActive:  true,
	}
}

func TestServiceCreate(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	svc := template.NewService(repo)

	created, err := svc.Create(context.Background(), validTemplate())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.Equal(t, 1, repo.callCount("Create"))
}

func TestServiceCreateRejectsDuplicateNameLanguage(t *testing.T) {
	t.Parallel()

	existing := welcomeTemplate()
	repo := newFakeRepo(existing)
	svc := template.NewService(repo)

	_, err := svc.Create(context.Background(), validTemplate())
	require.Error(t, err)

	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, repo.callCount("Create"))
}

func TestServiceCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*template.NotificationTemplate)
	}{
		{"missing name", func(tp *template.NotificationTemplate) { tp.Name = "" }},
		{"missing language", func(tp *template.NotificationTemplate) { tp.Language = "" }},
		{"missing body", func(tp *template.NotificationTemplate) { tp.Body = "" }},
		{"bad channel", func(tp *template.NotificationTemplate) { tp.Channel = "fax" }},
		{"bad variable name", func(tp *template.NotificationTemplate) { tp.Variables = []string{"user name"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := template.NewService(newFakeRepo())
			tmpl := validTemplate()
			tt.mutate(tmpl)

			_, err := svc.Create(context.Background(), tmpl)
			require.Error(t, err)

			var verr *common.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestServiceUpdate(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(welcomeTemplate())
	svc := template.NewService(repo)

	updated := welcomeTemplate()
	updated.Subject = "Hi {{Name}}!"

	got, err := svc.Update(context.Background(), updated)
	require.NoError(t, err)

	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "Hi {{Name}}!", got.Subject)
	assert.Equal(t, 1, repo.callCount("Update"))
}

func TestServiceUpdateMissingTemplate(t *testing.T) {
	t.Parallel()

	svc := template.NewService(newFakeRepo())

	tmpl := validTemplate()
	tmpl.ID = "missing"
	_, err := svc.Update(context.Background(), tmpl)

	var nf *common.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestServiceUpdateRequiresID(t *testing.T) {
	t.Parallel()

	svc := template.NewService(newFakeRepo())

	_, err := svc.Update(context.Background(), validTemplate())

	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestServiceUpdateRenameConflict(t *testing.T) {
	t.Parallel()

	other := welcomeTemplate()
	other.ID = "tpl-2"
	other.Name = "reset"

	repo := newFakeRepo(welcomeTemplate(), other)
	svc := template.NewService(repo)

	// Renaming tpl-1 to (reset, en) collides with tpl-2.
	renamed := welcomeTemplate()
	renamed.Name = "reset"
	_, err := svc.Update(context.Background(), renamed)

	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, repo.callCount("Update"))
}

func TestServiceDelete(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(welcomeTemplate())
	svc := template.NewService(repo)

	require.NoError(t, svc.Delete(context.Background(), "tpl-1"))
	assert.Equal(t, 1, repo.callCount("Delete"))

	err := svc.Delete(context.Background(), "tpl-1")
	var nf *common.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestServiceGet(t *testing.T) {
	t.Parallel()

	svc := template.NewService(newFakeRepo(welcomeTemplate()))

	got, err := svc.Get(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "welcome", got.Name)

	_, err = svc.Get(context.Background(), "missing")
	var nf *common.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestServiceListByChannel(t *testing.T) {
	t.Parallel()

	svc := template.NewService(newFakeRepo(welcomeTemplate()))

	templates, err := svc.ListByChannel(context.Background(), notification.ChannelEmail)
	require.NoError(t, err)
	assert.Len(t, templates, 1)

	_, err = svc.ListByChannel(context.Background(), "fax")
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
}
