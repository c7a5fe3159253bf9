package notification_test

import (
	"context"
	"sync"
	"time"

	"github.com/rickymta/isra-notification-service/internal/domain/notification"
)

// fakeHistory is an in-memory HistoryRepository. It stores copies so a
// record only changes when Update lands, records every status written by
// Create/Update in order, and injects per-method errors.
type fakeHistory struct {
	mu      sync.Mutex
	records map[string]*notification.NotificationHistory
	calls   map[string]int
	errs    map[string]error

	statusLog []notification.Status

	// stale and failedRetry are returned verbatim by the reaper queries.
	stale       []*notification.NotificationHistory
	failedRetry []*notification.NotificationHistory

	gotLimit  int
	gotFilter notification.ListFilter
}

var _ notification.HistoryRepository = (*fakeHistory)(nil)

func newFakeHistory(records ...*notification.NotificationHistory) *fakeHistory {
	h := &fakeHistory{
		records: make(map[string]*notification.NotificationHistory),
		calls:   make(map[string]int),
		errs:    make(map[string]error),
	}
	for _, rec := range records {
		cp := *rec
		h.records[rec.ID] = &cp
	}
	return h
}

func (h *fakeHistory) failWith(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs[method] = err
}

func (h *fakeHistory) callCount(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[method]
}

func (h *fakeHistory) stored(id string) *notification.NotificationHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (h *fakeHistory) statuses() []notification.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]notification.Status, len(h.statusLog))
	copy(out, h.statusLog)
	return out
}

func (h *fakeHistory) enter(method string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[method]++
	return h.errs[method]
}

func (h *fakeHistory) Create(_ context.Context, rec *notification.NotificationHistory) error {
	if err := h.enter("Create"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *rec
	h.records[rec.ID] = &cp
	h.statusLog = append(h.statusLog, rec.Status)
	return nil
}

func (h *fakeHistory) Update(_ context.Context, rec *notification.NotificationHistory) error {
	if err := h.enter("Update"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *rec
	h.records[rec.ID] = &cp
	h.statusLog = append(h.statusLog, rec.Status)
	return nil
}

func (h *fakeHistory) GetByID(_ context.Context, id string) (*notification.NotificationHistory, error) {
	if err := h.enter("GetByID"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (h *fakeHistory) GetByExternalMessageID(_ context.Context, externalID string) (*notification.NotificationHistory, error) {
	if err := h.enter("GetByExternalMessageID"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records {
		if rec.ExternalMessageID == externalID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (h *fakeHistory) GetByUserID(_ context.Context, userID string, limit int) ([]*notification.NotificationHistory, error) {
	if err := h.enter("GetByUserID"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gotLimit = limit
	var out []*notification.NotificationHistory
	for _, rec := range h.records {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (h *fakeHistory) List(_ context.Context, filter notification.ListFilter) ([]*notification.NotificationHistory, int, error) {
	if err := h.enter("List"); err != nil {
		return nil, 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gotFilter = filter
	out := make([]*notification.NotificationHistory, 0, len(h.records))
	for _, rec := range h.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (h *fakeHistory) GetFailedForRetry(_ context.Context, _ int) ([]*notification.NotificationHistory, error) {
	if err := h.enter("GetFailedForRetry"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failedRetry, nil
}

func (h *fakeHistory) ListStale(_ context.Context, _ time.Time, _ int) ([]*notification.NotificationHistory, error) {
	if err := h.enter("ListStale"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stale, nil
}

// publishCall records one handoff to the fakePublisher.
type publishCall struct {
	Kind    string // "publish", "delayed", "retry"
	Req     *notification.NotificationRequest
	Delay   time.Duration
	Attempt int
}

// fakePublisher records publish calls and injects per-kind errors.
type fakePublisher struct {
	mu         sync.Mutex
	calls      []publishCall
	publishErr error
	delayedErr error
	retryErr   error
}

var _ notification.Publisher = (*fakePublisher)(nil)

func (p *fakePublisher) Publish(_ context.Context, req *notification.NotificationRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.calls = append(p.calls, publishCall{Kind: "publish", Req: req})
	return nil
}

func (p *fakePublisher) PublishDelayed(_ context.Context, req *notification.NotificationRequest, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delayedErr != nil {
		return p.delayedErr
	}
	p.calls = append(p.calls, publishCall{Kind: "delayed", Req: req, Delay: delay})
	return nil
}

func (p *fakePublisher) PublishRetry(_ context.Context, req *notification.NotificationRequest, attempt int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retryErr != nil {
		return p.retryErr
	}
	p.calls = append(p.calls, publishCall{Kind: "retry", Req: req, Attempt: attempt})
	return nil
}

func (p *fakePublisher) published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishCall, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *fakePublisher) callsOf(kind string) []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishCall
	for _, c := range p.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// fakeStrategy is a scriptable ChannelStrategy that records what it was
// asked to send.
type fakeStrategy struct {
	mu      sync.Mutex
	channel notification.Channel
	valid   bool
	result  notification.NotificationResult
	err     error

	sendCalls     int
	lastContent   notification.Content
	lastRecipient notification.Recipient
	sawDeadline   bool
}

var _ notification.ChannelStrategy = (*fakeStrategy)(nil)

func newFakeStrategy(ch notification.Channel) *fakeStrategy {
	return &fakeStrategy{channel: ch, valid: true}
}

func (s *fakeStrategy) Channel() notification.Channel { return s.channel }

func (s *fakeStrategy) ValidateRecipient(notification.Recipient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

func (s *fakeStrategy) Send(ctx context.Context, content notification.Content, r notification.Recipient) (notification.NotificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	s.lastContent = content
	s.lastRecipient = r
	_, s.sawDeadline = ctx.Deadline()
	return s.result, s.err
}

func (s *fakeStrategy) sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls
}

// fakeRenderer returns a canned rendered message or error.
type fakeRenderer struct {
	mu       sync.Mutex
	rendered *notification.RenderedMessage
	err      error
	calls    int
}

var _ notification.Renderer = (*fakeRenderer)(nil)

func (r *fakeRenderer) Render(_ context.Context, _ *notification.NotificationRequest) (*notification.RenderedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.rendered, nil
}

func (r *fakeRenderer) renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeLimiter is a RecipientRateLimiter with a fixed answer.
type fakeLimiter struct {
	mu          sync.Mutex
	allow       bool
	err         error
	calls       int
	lastAddress string
}

var _ notification.RecipientRateLimiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, address string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.lastAddress = address
	return l.allow, l.err
}

// queuedRequest is the baseline request most tests start from.
func queuedRequest() *notification.NotificationRequest {
	return &notification.NotificationRequest{
		ID:         "ntf-1",
		UserID:     "user-1",
		TemplateID: "tpl-1",
		Channel:    notification.ChannelEmail,
		Recipient:  notification.Recipient{Email: "john@example.com"},
		Variables:  map[string]string{"Name": "John"},
		Priority:   2,
	}
}

// pendingHistory builds the history record intake would have written for req.
func pendingHistory(req *notification.NotificationRequest, maxRetries int) *notification.NotificationHistory {
	now := time.Now().UTC()
	return &notification.NotificationHistory{
		ID:         req.ID,
		UserID:     req.UserID,
		TemplateID: req.TemplateID,
		Channel:    req.Channel,
		Status:     notification.StatusPending,
		Recipient:  req.Recipient,
		Variables:  req.Variables,
		Priority:   req.Priority,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func renderedWelcome() *notification.RenderedMessage {
	return &notification.RenderedMessage{
		TemplateID:   "tpl-1",
		TemplateName: "welcome",
		Content: notification.Content{
			Subject:   "Welcome, John!",
			Body:      "Hello John.",
			Variables: map[string]string{"Name": "John"},
		},
	}
}
