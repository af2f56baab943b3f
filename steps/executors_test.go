package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastron/video-ware-sub000/cache"
	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/mediatool"
	"github.com/dastron/video-ware-sub000/providers"
	"github.com/dastron/video-ware-sub000/store"
)

// fakeBlob keeps objects in a map and resolves refs to themselves.
type fakeBlob struct {
	t       *testing.T
	objects map[string]string
	puts    int
}

func newFakeBlob(t *testing.T) *fakeBlob {
	return &fakeBlob{t: t, objects: make(map[string]string)}
}

func (f *fakeBlob) Exists(ctx context.Context, remotePath string) (bool, error) {
	_, ok := f.objects[remotePath]
	return ok, nil
}

func (f *fakeBlob) Put(ctx context.Context, localPath, remotePath string) (string, error) {
	f.objects[remotePath] = localPath
	f.puts++
	return f.URI(remotePath), nil
}

func (f *fakeBlob) URI(remotePath string) string {
	return "gs://test-bucket/" + remotePath
}

func (f *fakeBlob) Resolve(ctx context.Context, remoteRef string) (string, error) {
	return remoteRef, nil
}

func (f *fakeBlob) TempDir(tag string) (string, error) {
	return f.t.TempDir(), nil
}

func (f *fakeBlob) Unlink(path string) error { return nil }

// fakeTool records calls and returns a fixed probe.
type fakeTool struct {
	probes     int
	thumbnails int
	probeErr   error
}

func (f *fakeTool) Probe(ctx context.Context, path string) (*mediatool.ProbeResult, error) {
	f.probes++
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &mediatool.ProbeResult{Duration: 120.5, Width: 1920, Height: 1080, Codec: "h264", FPS: 30}, nil
}

func (f *fakeTool) GenerateThumbnail(ctx context.Context, path, outPath string, cfg mediatool.ThumbnailConfig, probe *mediatool.ProbeResult) error {
	f.thumbnails++
	return nil
}

func (f *fakeTool) GenerateSprite(ctx context.Context, path, outPath string, cfg mediatool.SpriteConfig, probe *mediatool.ProbeResult) error {
	return nil
}

func (f *fakeTool) Transcode(ctx context.Context, path, outPath string, cfg mediatool.TranscodeConfig, probe *mediatool.ProbeResult, progress mediatool.ProgressFunc) error {
	if progress != nil {
		progress(100)
	}
	return nil
}

// fakeVideo counts Annotate calls and returns one confident label.
type fakeVideo struct {
	calls int
	err   error
}

func (f *fakeVideo) Annotate(ctx context.Context, objectURI string, features []providers.Feature) (*providers.AnnotateResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &providers.AnnotateResponse{
		LabelAnnotations: []providers.LabelAnnotation{{
			Entity:   providers.Entity{Description: "cat"},
			Segments: []providers.Segment{{Start: 0, End: 10, Confidence: 0.9}},
		}},
		ShotSegments: []providers.Segment{{Start: 0, End: 5}, {Start: 5, End: 10}},
	}, nil
}

// fakeSpeech counts Transcribe calls.
type fakeSpeech struct {
	calls int
}

func (f *fakeSpeech) Transcribe(ctx context.Context, objectURI string, cfg providers.SpeechConfig) (*providers.TranscribeResponse, error) {
	f.calls++
	return &providers.TranscribeResponse{Results: []providers.SpeechResult{
		{Transcript: providers.Transcript{Text: "hello world", Confidence: 0.9, Start: 0, End: 2.5}},
	}}, nil
}

func newTestDeps(t *testing.T) (*Deps, *store.MemoryStore, *fakeTool, *fakeVideo) {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.AddUniqueIndex(CollectionMedia, "upload")
	ms.AddUniqueIndex(CollectionEntities, "hash")
	ms.AddUniqueIndex(CollectionTracks, "hash")
	ms.AddUniqueIndex(CollectionClips, "hash")
	ms.AddUniqueIndex(CollectionSummaries, "media")

	tool := &fakeTool{}
	video := &fakeVideo{}
	deps := &Deps{
		Records: ms,
		Blobs:   newFakeBlob(t),
		Tool:    tool,
		Video:   video,
		Speech:  &fakeSpeech{},
		Cache:   cache.NewMemoryCache(),
		Logger:  &core.NoOpLogger{},
		Config:  core.DefaultConfig(),
	}
	return deps, ms, tool, video
}

func stepCtx(kind string) *StepContext {
	return &StepContext{Step: kind, Logger: &core.NoOpLogger{}}
}

func TestProbeCreatesMediaWithVersionOne(t *testing.T) {
	ctx := context.Background()
	deps, ms, _, _ := newTestDeps(t)

	out, err := deps.executeProbe(ctx, map[string]interface{}{
		"filePath":  "/tmp/source.mp4",
		"uploadId":  "u1",
		"workspace": "ws1",
	}, stepCtx(KindProbe))
	require.NoError(t, err)

	mediaID, _ := out["mediaId"].(string)
	require.NotEmpty(t, mediaID)

	rec, err := ms.GetByID(ctx, CollectionMedia, mediaID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.GetInt("version"))
	assert.Equal(t, "u1", rec.GetString("upload"))
	assert.Equal(t, 120.5, rec.GetFloat("duration"))
	assert.Equal(t, "h264", rec.GetString("codec"))

	probe, _ := out["probe"].(map[string]interface{})
	require.NotNil(t, probe)
	assert.Equal(t, 120.5, probe["duration"])
}

func TestProbeRerunLeavesVersionUntouched(t *testing.T) {
	ctx := context.Background()
	deps, ms, _, _ := newTestDeps(t)

	input := map[string]interface{}{"filePath": "/tmp/source.mp4", "uploadId": "u1"}

	out1, err := deps.executeProbe(ctx, input, stepCtx(KindProbe))
	require.NoError(t, err)
	mediaID := out1["mediaId"].(string)

	// Simulate an externally bumped version between runs.
	_, err = ms.Update(ctx, CollectionMedia, mediaID, store.Record{"version": 3})
	require.NoError(t, err)

	out2, err := deps.executeProbe(ctx, input, stepCtx(KindProbe))
	require.NoError(t, err)
	assert.Equal(t, mediaID, out2["mediaId"])

	rec, err := ms.GetByID(ctx, CollectionMedia, mediaID)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.GetInt("version"), "probe must never rewrite the media version")

	res, err := ms.List(ctx, CollectionMedia, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestProbeRejectsMissingInput(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)

	_, err := deps.executeProbe(context.Background(), map[string]interface{}{"uploadId": "u1"}, stepCtx(KindProbe))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestThumbnailNameIsDeterministic(t *testing.T) {
	ctx := context.Background()
	deps, _, tool, _ := newTestDeps(t)

	input := map[string]interface{}{
		"filePath": "/tmp/source.mp4",
		"uploadId": "u1",
		"probe":    map[string]interface{}{"duration": 120.5, "width": 1920, "height": 1080},
		"config":   map[string]interface{}{"timestamp": "midpoint", "width": 640, "height": 360},
	}

	out1, err := deps.executeThumbnail(ctx, input, stepCtx(KindThumbnail))
	require.NoError(t, err)
	out2, err := deps.executeThumbnail(ctx, input, stepCtx(KindThumbnail))
	require.NoError(t, err)

	name1 := filepath.Base(out1["thumbnailPath"].(string))
	name2 := filepath.Base(out2["thumbnailPath"].(string))
	assert.Equal(t, name1, name2)
	assert.Regexp(t, `^thumbnail_u1_[0-9a-f]{12}\.jpg$`, name1)
	assert.Equal(t, 2, tool.thumbnails)

	// A different config renders to a different name.
	input["config"] = map[string]interface{}{"timestamp": "midpoint", "width": 1280, "height": 720}
	out3, err := deps.executeThumbnail(ctx, input, stepCtx(KindThumbnail))
	require.NoError(t, err)
	assert.NotEqual(t, name1, filepath.Base(out3["thumbnailPath"].(string)))
}

func TestFinalizeAttachesArtifactsOnce(t *testing.T) {
	ctx := context.Background()
	deps, ms, _, _ := newTestDeps(t)

	media, err := ms.Create(ctx, CollectionMedia, store.Record{"upload": "u1", "version": 1})
	require.NoError(t, err)

	input := map[string]interface{}{
		"uploadId":      "u1",
		"probe":         map[string]interface{}{"duration": 120.5},
		"thumbnailPath": "/scratch/thumbnail_u1_abc.jpg",
		"spritePath":    "/scratch/sprite_u1_abc.jpg",
		"proxyPath":     "/scratch/proxy_u1_abc.mp4",
	}

	out, err := deps.executeFinalize(ctx, input, stepCtx(KindFinalize))
	require.NoError(t, err)
	assert.Equal(t, media.ID(), out["mediaId"])
	require.NotEmpty(t, out["thumbnailFileId"])
	require.NotEmpty(t, out["spriteFileId"])
	require.NotEmpty(t, out["proxyFileId"])
	assert.Equal(t, deps.Config.ProcessorVersion, out["processorVersion"])

	rec, err := ms.GetByID(ctx, CollectionMedia, media.ID())
	require.NoError(t, err)
	assert.Equal(t, out["thumbnailFileId"], rec.GetString("thumbnail"))
	assert.Equal(t, out["proxyFileId"], rec.GetString("proxy"))
	assert.Equal(t, deps.Config.ProcessorVersion, rec.GetString("processor_version"))

	files, err := ms.List(ctx, CollectionFiles, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, files.Total)

	// Re-run reuses the existing file records.
	out2, err := deps.executeFinalize(ctx, input, stepCtx(KindFinalize))
	require.NoError(t, err)
	assert.Equal(t, out["thumbnailFileId"], out2["thumbnailFileId"])

	files, err = ms.List(ctx, CollectionFiles, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, files.Total)
}

func TestFinalizeWithoutProxy(t *testing.T) {
	ctx := context.Background()
	deps, ms, _, _ := newTestDeps(t)

	_, err := ms.Create(ctx, CollectionMedia, store.Record{"upload": "u1", "version": 1})
	require.NoError(t, err)

	out, err := deps.executeFinalize(ctx, map[string]interface{}{
		"uploadId":      "u1",
		"probe":         map[string]interface{}{"duration": 120.5},
		"thumbnailPath": "/scratch/thumbnail_u1_abc.jpg",
		"spritePath":    "/scratch/sprite_u1_abc.jpg",
	}, stepCtx(KindFinalize))
	require.NoError(t, err)

	assert.NotEmpty(t, out["thumbnailFileId"])
	_, hasProxy := out["proxyFileId"]
	assert.False(t, hasProxy)
}

func TestFinalizeMissingMedia(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)

	_, err := deps.executeFinalize(context.Background(), map[string]interface{}{
		"uploadId": "ghost",
		"probe":    map[string]interface{}{"duration": 1},
	}, stepCtx(KindFinalize))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUploadPassesThroughObjectURIs(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)

	out, err := deps.executeUpload(context.Background(), map[string]interface{}{
		"mediaId": "m1",
		"fileRef": "gs://somewhere/else.mp4",
	}, stepCtx(KindUpload))
	require.NoError(t, err)
	assert.Equal(t, "gs://somewhere/else.mp4", out["objectUri"])
	assert.Equal(t, true, out["alreadyExisted"])
	assert.Equal(t, false, out["uploaded"])
}

func TestUploadPutsAndThenSkips(t *testing.T) {
	ctx := context.Background()
	deps, _, _, _ := newTestDeps(t)
	blobs := deps.Blobs.(*fakeBlob)

	input := map[string]interface{}{"mediaId": "m1", "fileRef": "/tmp/source.mp4"}

	out, err := deps.executeUpload(ctx, input, stepCtx(KindUpload))
	require.NoError(t, err)
	assert.Equal(t, true, out["uploaded"])
	assert.Equal(t, "gs://test-bucket/media/m1/source.mp4", out["objectUri"])
	assert.Equal(t, 1, blobs.puts)

	out, err = deps.executeUpload(ctx, input, stepCtx(KindUpload))
	require.NoError(t, err)
	assert.Equal(t, true, out["alreadyExisted"])
	assert.Equal(t, "gs://test-bucket/media/m1/source.mp4", out["objectUri"])
	assert.Equal(t, 1, blobs.puts, "existing objects are not re-uploaded")
}

func analysisInput() map[string]interface{} {
	return map[string]interface{}{
		"workspace": "ws1",
		"mediaId":   "m1",
		"version":   1,
		"objectUri": "gs://test-bucket/media/m1/source.mp4",
	}
}

func TestLabelDetectionPersistsAndCaches(t *testing.T) {
	ctx := context.Background()
	deps, ms, _, video := newTestDeps(t)
	exec := deps.analysisExecutor(KindLabelDetection)

	out, err := exec(ctx, analysisInput(), stepCtx(KindLabelDetection))
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["cacheHit"], "first run is a miss")
	assert.Equal(t, 1, video.calls)

	entities, err := ms.List(ctx, CollectionEntities, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, entities.Total)
	clips, err := ms.List(ctx, CollectionClips, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, clips.Total)

	summaries, err := ms.List(ctx, CollectionSummaries, 1, 10, "", "")
	require.NoError(t, err)
	require.Equal(t, 1, summaries.Total)
	assert.Equal(t, 2, summaries.Items[0].GetInt("shot_count"))
	assert.Equal(t, 1, summaries.Items[0].GetInt("label_count"))

	// Second run is served from cache: no provider call, rows unchanged.
	out, err = exec(ctx, analysisInput(), stepCtx(KindLabelDetection))
	require.NoError(t, err)
	assert.Equal(t, true, out["cacheHit"])
	assert.Equal(t, 1, video.calls)

	clips, err = ms.List(ctx, CollectionClips, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, clips.Total)
}

func TestAnalysisCacheInvalidatedByProcessorVersion(t *testing.T) {
	ctx := context.Background()
	deps, _, _, video := newTestDeps(t)
	exec := deps.analysisExecutor(KindLabelDetection)

	_, err := exec(ctx, analysisInput(), stepCtx(KindLabelDetection))
	require.NoError(t, err)
	require.Equal(t, 1, video.calls)

	deps.Config.ProcessorVersion = "2.0.0"
	out, err := exec(ctx, analysisInput(), stepCtx(KindLabelDetection))
	require.NoError(t, err)
	assert.Equal(t, false, out["cacheHit"])
	assert.Equal(t, 2, video.calls, "stale entry forces a fresh provider call")
}

func TestSpeechTranscriptionUsesSpeechProvider(t *testing.T) {
	ctx := context.Background()
	deps, ms, _, video := newTestDeps(t)
	speech := deps.Speech.(*fakeSpeech)
	exec := deps.analysisExecutor(KindSpeechTranscription)

	out, err := exec(ctx, analysisInput(), stepCtx(KindSpeechTranscription))
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 1, speech.calls)
	assert.Zero(t, video.calls)

	clips, err := ms.List(ctx, CollectionClips, 1, 10, "", "")
	require.NoError(t, err)
	require.Equal(t, 1, clips.Total)
	assert.Equal(t, LabelTypeSpeech, clips.Items[0].GetString("label_type"))
	assert.Equal(t, "hello world", clips.Items[0].GetString("label"))
}

func TestAnalysisRequiresProvider(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	deps.Video = nil
	exec := deps.analysisExecutor(KindObjectTracking)

	_, err := exec(context.Background(), analysisInput(), stepCtx(KindObjectTracking))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestAnalysisProviderFailurePropagates(t *testing.T) {
	deps, _, _, video := newTestDeps(t)
	video.err = fmt.Errorf("annotate: %w", core.ErrUnavailable)
	exec := deps.analysisExecutor(KindLabelDetection)

	_, err := exec(context.Background(), analysisInput(), stepCtx(KindLabelDetection))
	assert.ErrorIs(t, err, core.ErrUnavailable)
}

func TestRegistryCoversAllKinds(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	reg := NewRegistry(deps)

	kinds := append([]string{
		KindProbe, KindThumbnail, KindSprite, KindTranscode, KindFinalize,
		KindUpload, KindNormalize, KindFinalizeLabels,
	}, AnalysisKinds...)
	for _, kind := range kinds {
		_, ok := reg.Get(kind)
		assert.True(t, ok, "missing executor for %s", kind)
	}

	_, ok := reg.Get("unknown")
	assert.False(t, ok)
}
