package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/storage"
)

// fakeStore is an in-memory media.Store covering every method the pipeline touches.
type fakeStore struct {
	mu          sync.Mutex
	attachments map[string]storage.MediaAttachment
	messages    map[string][]storage.Message // keyed by media group id
	statuses    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attachments: make(map[string]storage.MediaAttachment),
		messages:    make(map[string][]storage.Message),
	}
}

func (f *fakeStore) UpsertMediaAttachment(_ context.Context, _ string, m storage.MediaAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.attachments[m.FileUniqueID]; ok {
		existing.Status = m.Status
		if m.LocalURL != "" {
			existing.LocalURL = m.LocalURL
			existing.MimeType = m.MimeType
			existing.Size = m.Size
		}
		if m.Description != "" {
			existing.Description = m.Description
		}
		existing.UpdatedAt = time.Now()
		f.attachments[m.FileUniqueID] = existing
		return nil
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	f.attachments[m.FileUniqueID] = m
	return nil
}

func (f *fakeStore) SetMediaStatus(_ context.Context, _, fileUniqueID string, status storage.MediaStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.attachments[fileUniqueID]
	m.Status = status
	f.attachments[fileUniqueID] = m
	f.statuses = append(f.statuses, fileUniqueID+":"+string(status))
	return nil
}

func (f *fakeStore) SetMediaDescription(_ context.Context, _, fileUniqueID, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.attachments[fileUniqueID]
	m.Description = description
	f.attachments[fileUniqueID] = m
	return nil
}

func (f *fakeStore) GetMediaAttachment(_ context.Context, _, fileUniqueID string) (*storage.MediaAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.attachments[fileUniqueID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeStore) EligibleMediaGroups(_ context.Context, _ string, delay time.Duration, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]time.Time)
	for _, m := range f.attachments {
		if m.MediaGroupID == "" || m.Status != storage.MediaNew {
			continue
		}
		if m.UpdatedAt.After(latest[m.MediaGroupID]) {
			latest[m.MediaGroupID] = m.UpdatedAt
		}
	}
	var out []string
	for groupID, updatedAt := range latest {
		if !now.Before(updatedAt.Add(delay)) {
			out = append(out, groupID)
		}
	}
	return out, nil
}

func (f *fakeStore) MediaGroupMembers(_ context.Context, _, groupID string) ([]storage.MediaAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.MediaAttachment
	for _, m := range f.attachments {
		if m.MediaGroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) MessagesByMediaGroup(_ context.Context, _, groupID string) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[groupID], nil
}

func (f *fakeStore) SetMessageMedia(_ context.Context, _ string, _ int64, _, _, _ string) error {
	return nil
}

type fakeDownloader struct {
	data []byte
	mime string
	err  error
}

func (d *fakeDownloader) Download(_ context.Context, _ string) ([]byte, string, error) {
	if d.err != nil {
		return nil, "", d.err
	}
	return d.data, d.mime, nil
}

type recordingOutbound struct {
	mu      sync.Mutex
	actions []bus.OutgoingAction
}

func (r *recordingOutbound) Send(_ context.Context, action bus.OutgoingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestService(store Store, outbound Outbound) *Service {
	return New(store, outbound, nil, "default", Config{DefaultGroupDelay: 5 * time.Second})
}

func TestResizeToFit_ShrinksOversizedImageAndLeavesSmallOneAlone(t *testing.T) {
	big := testJPEG(t, 3000, 2000)
	out, err := resizeToFit(big, 1600)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1600, img.Bounds().Dx())
	assert.Less(t, img.Bounds().Dy(), 2000)

	small := testJPEG(t, 200, 100)
	out, err = resizeToFit(small, 1600)
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}

func TestIngest_UpsertsAttachmentAndLinksMessage(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &recordingOutbound{})

	evt := bus.IncomingEvent{
		Channel: "telegram",
		Kind:    bus.EventMessageCreated,
		Chat:    bus.ChatRef{ID: 1},
		Message: &bus.MessageRef{
			ID:       "10",
			ThreadID: 7,
			Media: []bus.MediaRef{
				{FileID: "f1", FileUniqueID: "u1", MimeType: "image/jpeg", Size: 100, MediaGroupID: "g1"},
			},
		},
	}

	require.NoError(t, svc.ingest(context.Background(), evt))

	att, err := store.GetMediaAttachment(context.Background(), "default", "u1")
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, "telegram", att.Channel)
	assert.Equal(t, int64(1), att.ChatID)
	assert.Equal(t, int64(7), att.ThreadID)
	assert.Equal(t, storage.MediaNew, att.Status)
	assert.Equal(t, "g1", att.MediaGroupID)
}

func TestTick_ProcessesEligibleGroupAndResendsToMatchingJob(t *testing.T) {
	store := newFakeStore()
	outbound := &recordingOutbound{}
	svc := New(store, outbound, nil, "default", Config{DefaultGroupDelay: 5 * time.Second})
	svc.Jobs = []ResenderJob{{ID: "job1", Channel: "telegram", SourceChatID: 1, TargetChatID: 99, GroupDelay: 5 * time.Second}}
	svc.RegisterDownloader("telegram", &fakeDownloader{data: testJPEG(t, 400, 400), mime: "image/jpeg"})

	old := time.Now().Add(-time.Hour)
	store.attachments["u1"] = storage.MediaAttachment{
		FileUniqueID: "u1", Status: storage.MediaNew, MimeType: "image/jpeg",
		PlatformFileID: "p1", MediaGroupID: "g1", Channel: "telegram", ChatID: 1, ThreadID: 0, UpdatedAt: old,
	}
	store.attachments["u2"] = storage.MediaAttachment{
		FileUniqueID: "u2", Status: storage.MediaNew, MimeType: "image/jpeg",
		PlatformFileID: "p2", MediaGroupID: "g1", Channel: "telegram", ChatID: 1, ThreadID: 0, UpdatedAt: old,
	}
	store.messages["g1"] = []storage.Message{{ChatID: 1, MessageID: "10", Text: "our trip"}}

	require.NoError(t, svc.Tick(context.Background()))

	require.Len(t, outbound.actions, 1)
	action := outbound.actions[0]
	assert.Equal(t, int64(99), action.ChatID)
	assert.Equal(t, bus.ActionSendMediaGroup, action.Kind)
	assert.Len(t, action.Media, 2)
	assert.Equal(t, "our trip", action.Media[0].Caption)

	a1, err := store.GetMediaAttachment(context.Background(), "default", "u1")
	require.NoError(t, err)
	assert.Equal(t, storage.MediaDone, a1.Status)
}

func TestTick_GroupNotYetOldEnoughIsNotProcessed(t *testing.T) {
	store := newFakeStore()
	outbound := &recordingOutbound{}
	svc := New(store, outbound, nil, "default", Config{DefaultGroupDelay: time.Hour})

	store.attachments["u1"] = storage.MediaAttachment{
		FileUniqueID: "u1", Status: storage.MediaNew, MediaGroupID: "g1",
		Channel: "telegram", ChatID: 1, UpdatedAt: time.Now(),
	}

	require.NoError(t, svc.Tick(context.Background()))
	assert.Empty(t, outbound.actions)
}

func TestProcessGroup_DownloadFailureMarksAttachmentFailedButStillResendsSurvivors(t *testing.T) {
	store := newFakeStore()
	outbound := &recordingOutbound{}
	svc := New(store, outbound, nil, "default", Config{DefaultGroupDelay: time.Second})
	svc.Jobs = []ResenderJob{{ID: "job1", Channel: "telegram", SourceChatID: 1, TargetChatID: 99}}
	svc.RegisterDownloader("telegram", &fakeDownloader{data: testJPEG(t, 400, 400), mime: "image/jpeg"})

	old := time.Now().Add(-time.Minute)
	store.attachments["ok"] = storage.MediaAttachment{
		FileUniqueID: "ok", Status: storage.MediaNew, PlatformFileID: "p-ok",
		MediaGroupID: "g2", Channel: "telegram", ChatID: 1, UpdatedAt: old,
	}
	store.attachments["bad"] = storage.MediaAttachment{
		FileUniqueID: "bad", Status: storage.MediaNew, PlatformFileID: "p-bad",
		MediaGroupID: "g2", Channel: "missing-channel", ChatID: 1, UpdatedAt: old,
	}

	require.NoError(t, svc.processGroup(context.Background(), "g2", time.Now()))

	bad, err := store.GetMediaAttachment(context.Background(), "default", "bad")
	require.NoError(t, err)
	assert.Equal(t, storage.MediaFailed, bad.Status)

	require.Len(t, outbound.actions, 1)
	assert.Len(t, outbound.actions[0].Media, 1)
}

func TestDescribe_ReturnsEmptyWhenVisionModelUnset(t *testing.T) {
	svc := New(newFakeStore(), &recordingOutbound{}, nil, "default", Config{})
	got := svc.describe(context.Background(), []llm.ImageContent{{MimeType: "image/jpeg", Data: "Zm9v"}})
	assert.Empty(t, got)
}

func TestJobsForAndGroupDelay_MatchOnSourceChatOnly(t *testing.T) {
	svc := New(newFakeStore(), &recordingOutbound{}, nil, "default", Config{DefaultGroupDelay: 5 * time.Second})
	svc.Jobs = []ResenderJob{
		{ID: "a", SourceChatID: 1, TargetChatID: 10, GroupDelay: 2 * time.Second},
		{ID: "b", SourceChatID: 1, TargetChatID: 20},
		{ID: "c", SourceChatID: 2, TargetChatID: 30},
	}

	jobs := svc.jobsFor(1)
	assert.Len(t, jobs, 2)
	assert.Equal(t, 2*time.Second, svc.groupDelay(1))
	assert.Equal(t, 5*time.Second, svc.groupDelay(2))
	assert.Empty(t, svc.jobsFor(3))
}
