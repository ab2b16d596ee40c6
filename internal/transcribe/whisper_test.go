package transcribe

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxharrison/podcast-adblocker/internal/runpod"
	"github.com/maxharrison/podcast-adblocker/internal/upstream"
)

type mockRunPodClient struct {
	mock.Mock
}

func (m *mockRunPodClient) Submit(ctx context.Context, audioURL string, opts runpod.SubmitOptions) (string, error) {
	args := m.Called(ctx, audioURL, opts)
	return args.String(0), args.Error(1)
}

func (m *mockRunPodClient) Poll(ctx context.Context, jobID string) (runpod.PollResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(runpod.PollResult), args.Error(1)
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStorage) CleanupTemp(ctx context.Context, paths []string) error {
	return m.Called(ctx, paths).Error(0)
}

func (m *mockStorage) Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStorage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

const episodeURL = "https://cdn.example.com/show/ep2.mp3?token=1"

func fastOptions() WhisperOptions {
	return WhisperOptions{
		Submit:       runpod.DefaultSubmitOptions(),
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
		PresignTTL:   time.Hour,
	}
}

func completed(out *runpod.Transcription) runpod.PollResult {
	return runpod.PollResult{Status: runpod.StatusCompleted, Output: out}
}

func TestStagingKey(t *testing.T) {
	assert.Equal(t, "audio-files/d41d8cd98f00b204e9800998ecf8427e.mp3", StagingKey(""))
	assert.Regexp(t, `^audio-files/[0-9a-f]{32}\.mp3$`, StagingKey(episodeURL))
	assert.Regexp(t, `^audio-files/[0-9a-f]{32}\.m4a$`, StagingKey("https://cdn.example.com/ep.M4A"))
	assert.Equal(t, StagingKey(episodeURL), StagingKey(episodeURL))
}

func TestRunPodWhisper_Transcribe(t *testing.T) {
	ctx := context.Background()
	client := &mockRunPodClient{}
	store := &mockStorage{}
	key := StagingKey(episodeURL)

	store.On("Exists", mock.Anything, key).Return(false, nil)
	store.On("Upload", mock.Anything, key, mock.Anything, "audio/mpeg").Return("https://bucket/"+key, nil)
	store.On("PresignGet", mock.Anything, key, time.Hour).Return("https://bucket/"+key+"?sig=1", nil)
	client.On("Submit", mock.Anything, "https://bucket/"+key+"?sig=1", runpod.DefaultSubmitOptions()).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusInQueue}, nil).Once()
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusRunning}, nil).Once()
	client.On("Poll", mock.Anything, "job-1").Return(completed(&runpod.Transcription{
		DetectedLanguage: "en",
		Segments: []runpod.Segment{
			{Words: []runpod.Word{{Word: " This", Start: 0}, {Word: " episode", Start: 0.4}}},
			{Words: []runpod.Word{{Word: " sponsored", Start: 61.25}}},
		},
	}), nil).Once()

	w := NewRunPodWhisper(client, store, fastOptions(), nil)
	transcript, err := w.Transcribe(ctx, []byte("ID3"), episodeURL)
	require.NoError(t, err)

	assert.Equal(t, "This<0.00s> episode<0.40s>\nsponsored<61.25s>", transcript)
	client.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRunPodWhisper_SkipsUploadWhenStaged(t *testing.T) {
	client := &mockRunPodClient{}
	store := &mockStorage{}
	key := StagingKey(episodeURL)

	store.On("Exists", mock.Anything, key).Return(true, nil)
	store.On("PresignGet", mock.Anything, key, time.Hour).Return("https://signed", nil)
	client.On("Submit", mock.Anything, "https://signed", mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(completed(&runpod.Transcription{
		WordTimestamps: []runpod.Word{{Word: "hi", Start: 1}},
	}), nil)

	transcript, err := NewRunPodWhisper(client, store, fastOptions(), nil).Transcribe(context.Background(), nil, episodeURL)
	require.NoError(t, err)
	assert.Equal(t, "hi<1.00s>", transcript)
	store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunPodWhisper_NoResults(t *testing.T) {
	client := &mockRunPodClient{}
	store := &mockStorage{}

	store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	store.On("PresignGet", mock.Anything, mock.Anything, mock.Anything).Return("https://signed", nil)
	client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(completed(&runpod.Transcription{}), nil)

	_, err := NewRunPodWhisper(client, store, fastOptions(), nil).Transcribe(context.Background(), nil, episodeURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrFormat)
}

func TestRunPodWhisper_NoOutput(t *testing.T) {
	client := &mockRunPodClient{}
	store := &mockStorage{}

	store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	store.On("PresignGet", mock.Anything, mock.Anything, mock.Anything).Return("https://signed", nil)
	client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(completed(nil), nil)

	_, err := NewRunPodWhisper(client, store, fastOptions(), nil).Transcribe(context.Background(), nil, episodeURL)
	assert.ErrorIs(t, err, upstream.ErrFormat)
}

func TestRunPodWhisper_JobFailed(t *testing.T) {
	client := &mockRunPodClient{}
	store := &mockStorage{}

	store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	store.On("PresignGet", mock.Anything, mock.Anything, mock.Anything).Return("https://signed", nil)
	client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusFailed, Error: "CUDA out of memory"}, nil)

	_, err := NewRunPodWhisper(client, store, fastOptions(), nil).Transcribe(context.Background(), nil, episodeURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestRunPodWhisper_Timeout(t *testing.T) {
	client := &mockRunPodClient{}
	store := &mockStorage{}

	store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	store.On("PresignGet", mock.Anything, mock.Anything, mock.Anything).Return("https://signed", nil)
	client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusInProgress}, nil)

	opts := fastOptions()
	opts.MaxWait = 20 * time.Millisecond

	_, err := NewRunPodWhisper(client, store, opts, nil).Transcribe(context.Background(), nil, episodeURL)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRunPodWhisper_StagingErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("exists", func(t *testing.T) {
		store := &mockStorage{}
		store.On("Exists", mock.Anything, mock.Anything).Return(false, boom)

		_, err := NewRunPodWhisper(&mockRunPodClient{}, store, fastOptions(), nil).Transcribe(context.Background(), nil, episodeURL)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("upload", func(t *testing.T) {
		store := &mockStorage{}
		store.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
		store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", boom)

		_, err := NewRunPodWhisper(&mockRunPodClient{}, store, fastOptions(), nil).Transcribe(context.Background(), nil, episodeURL)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("submit", func(t *testing.T) {
		store := &mockStorage{}
		client := &mockRunPodClient{}
		store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
		store.On("PresignGet", mock.Anything, mock.Anything, mock.Anything).Return("https://signed", nil)
		client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("", boom)

		_, err := NewRunPodWhisper(client, store, fastOptions(), nil).Transcribe(context.Background(), nil, episodeURL)
		assert.ErrorIs(t, err, boom)
	})
}
