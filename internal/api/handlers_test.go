package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certhub/mailer/internal/campaign"
	"github.com/certhub/mailer/internal/domain"
	"github.com/certhub/mailer/internal/ledger"
	"github.com/certhub/mailer/internal/template"
)

type fakeRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

func (r *fakeRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if f.Status == "" || string(c.Status) == f.Status {
			out = append(out, *c)
		}
	}
	return out, len(out), nil
}

func (r *fakeRepo) Transition(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s", campaign.ErrInvalidState, c.Status)
}

func (r *fakeRepo) SetTotalRecipients(_ context.Context, id string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.TotalRecipients = n
	}
	return nil
}

func (r *fakeRepo) SetCounters(_ context.Context, id string, counts domain.AttemptCounts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.SentCount = counts.Sent
		c.FailedCount = counts.Failed
	}
	return nil
}

func (r *fakeRepo) DueScheduled(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}

type fakeSource struct{ recipients []domain.Recipient }

func (s *fakeSource) Load(_ context.Context, _ string) ([]domain.Recipient, error) {
	return s.recipients, nil
}

type fakeTransport struct{}

func (fakeTransport) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	return &domain.SendResult{MessageID: "m-" + msg.To}, nil
}

func newTestServer(t *testing.T, recipients []domain.Recipient) (*httptest.Server, *fakeRepo) {
	t.Helper()
	repo := &fakeRepo{campaigns: make(map[string]*domain.Campaign)}
	svc := campaign.NewService(campaign.Deps{
		Repo:      repo,
		Source:    &fakeSource{recipients: recipients},
		Ledger:    ledger.NewMemory(),
		Transport: fakeTransport{},
		Renderer:  template.NewRenderer(),
	}, campaign.Config{BatchDelay: time.Millisecond})

	srv := httptest.NewServer(SetupRoutes(NewHandlers(svc), nil))
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestCreateCampaignEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/campaigns", `{
		"batch_id": "batch-1",
		"subject": "Your certificate, {{ name }}",
		"body_template": "<p>Hi {{ name }}</p>",
		"from_name": "CertHub",
		"from_email": "certs@certhub.io"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var c domain.Campaign
	decodeBody(t, resp, &c)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, domain.CampaignDraft, c.Status)
}

func TestCreateCampaignValidationError(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/campaigns", `{"subject": "s"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetCampaignNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/campaigns/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendCampaignAccepted(t *testing.T) {
	srv, repo := newTestServer(t, []domain.Recipient{
		{Email: "ada@example.com", Name: "Ada"},
	})

	resp := postJSON(t, srv.URL+"/api/campaigns", `{
		"batch_id": "b1", "subject": "s", "body_template": "b",
		"from_email": "a@b.c"
	}`)
	var c domain.Campaign
	decodeBody(t, resp, &c)

	resp = postJSON(t, srv.URL+"/api/campaigns/"+c.ID+"/send", ``)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		got, err := repo.Get(context.Background(), c.ID)
		return err == nil && got.Status == domain.CampaignCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestSendCampaignConflictWhenTerminal(t *testing.T) {
	srv, repo := newTestServer(t, nil)
	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignCompleted}

	resp := postJSON(t, srv.URL+"/api/campaigns/c1/send", ``)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCampaignStatusEndpoint(t *testing.T) {
	srv, repo := newTestServer(t, nil)
	repo.campaigns["c1"] = &domain.Campaign{
		ID: "c1", Status: domain.CampaignCompleted, TotalRecipients: 4,
	}

	resp, err := http.Get(srv.URL + "/api/campaigns/c1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report campaign.StatusReport
	decodeBody(t, resp, &report)
	assert.Equal(t, domain.CampaignCompleted, report.Status)
}

func TestRetryCampaignConflictWhileSending(t *testing.T) {
	srv, repo := newTestServer(t, nil)
	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignSending}

	resp := postJSON(t, srv.URL+"/api/campaigns/c1/retry", ``)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelCampaignEndpoint(t *testing.T) {
	srv, repo := newTestServer(t, nil)
	at := time.Now().Add(time.Hour)
	repo.campaigns["c1"] = &domain.Campaign{
		ID: "c1", Status: domain.CampaignScheduled, ScheduledAt: &at,
	}

	resp := postJSON(t, srv.URL+"/api/campaigns/c1/cancel", ``)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, _ := repo.Get(context.Background(), "c1")
	assert.Equal(t, domain.CampaignCancelled, got.Status)
}

func TestSendTestEmailEndpoint(t *testing.T) {
	srv, repo := newTestServer(t, nil)
	repo.campaigns["c1"] = &domain.Campaign{
		ID: "c1", Status: domain.CampaignDraft, BatchID: "b1",
		Subject: "s", BodyTemplate: "b", FromEmail: "a@b.c",
	}

	resp := postJSON(t, srv.URL+"/api/campaigns/c1/test", `{"email":"preview@certhub.io"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/campaigns/c1/test", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListCampaignsEndpoint(t *testing.T) {
	srv, repo := newTestServer(t, nil)
	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignDraft}
	repo.campaigns["c2"] = &domain.Campaign{ID: "c2", Status: domain.CampaignCompleted}

	resp, err := http.Get(srv.URL + "/api/campaigns?status=draft")
	require.NoError(t, err)

	var body struct {
		Campaigns []domain.Campaign `json:"campaigns"`
		Total     int               `json:"total"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Campaigns, 1)
	assert.Equal(t, "c1", body.Campaigns[0].ID)
}
