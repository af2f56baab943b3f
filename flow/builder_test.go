package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/steps"
)

func transcodeTask(payload map[string]interface{}) *core.Task {
	task := core.NewTask("t1", core.TaskKindTranscode, payload)
	task.WorkspaceID = "ws1"
	return task
}

func detectLabelsTask(payload map[string]interface{}) *core.Task {
	task := core.NewTask("t2", core.TaskKindDetectLabels, payload)
	task.WorkspaceID = "ws1"
	return task
}

func TestBuildTranscodeChain(t *testing.T) {
	f, err := Build(transcodeTask(map[string]interface{}{
		"uploadId": "u1",
		"filePath": "/tmp/source.mp4",
		"transcode": map[string]interface{}{
			"enabled":    true,
			"codec":      "h264",
			"resolution": "720p",
		},
	}), core.DefaultConfig())
	require.NoError(t, err)

	require.Len(t, f.Jobs, 5)
	assert.Empty(t, f.Jobs[steps.KindProbe].DependsOn)
	assert.Equal(t, []string{steps.KindProbe}, f.Jobs[steps.KindThumbnail].DependsOn)
	assert.Equal(t, []string{steps.KindThumbnail}, f.Jobs[steps.KindSprite].DependsOn)
	assert.Equal(t, []string{steps.KindSprite}, f.Jobs[steps.KindTranscode].DependsOn)
	assert.Equal(t, []string{steps.KindTranscode}, f.Jobs[steps.KindFinalize].DependsOn)

	for kind, job := range f.Jobs {
		assert.False(t, job.AllowPartialFailure, "transcode step %s must not tolerate failure", kind)
		assert.Greater(t, job.MaxAttempts, 0)
	}

	cfg, _ := f.Jobs[steps.KindTranscode].Input["config"].(map[string]interface{})
	require.NotNil(t, cfg)
	assert.Equal(t, "720p", cfg["resolution"])
}

func TestBuildTranscodeWithoutProxy(t *testing.T) {
	f, err := Build(transcodeTask(map[string]interface{}{
		"uploadId": "u1",
		"filePath": "/tmp/source.mp4",
	}), core.DefaultConfig())
	require.NoError(t, err)

	require.Len(t, f.Jobs, 4)
	_, hasTranscode := f.Jobs[steps.KindTranscode]
	assert.False(t, hasTranscode)
	assert.Equal(t, []string{steps.KindSprite}, f.Jobs[steps.KindFinalize].DependsOn)
}

func TestBuildTranscodeRequiresUpload(t *testing.T) {
	_, err := Build(transcodeTask(map[string]interface{}{"filePath": "/tmp/source.mp4"}), core.DefaultConfig())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestBuildDetectLabelsFromProviderFlags(t *testing.T) {
	cfg := core.DefaultConfig()
	// Defaults enable label detection, object tracking and speech.
	f, err := Build(detectLabelsTask(map[string]interface{}{
		"mediaId": "m1",
		"fileRef": "/tmp/source.mp4",
	}), cfg)
	require.NoError(t, err)

	require.Len(t, f.Jobs, 5)
	assert.Contains(t, f.Jobs, steps.KindUpload)
	assert.Contains(t, f.Jobs, steps.KindLabelDetection)
	assert.Contains(t, f.Jobs, steps.KindObjectTracking)
	assert.Contains(t, f.Jobs, steps.KindSpeechTranscription)
	assert.Contains(t, f.Jobs, steps.KindFinalizeLabels)
	assert.NotContains(t, f.Jobs, steps.KindFaceDetection)

	for _, kind := range []string{steps.KindLabelDetection, steps.KindObjectTracking, steps.KindSpeechTranscription} {
		job := f.Jobs[kind]
		assert.True(t, job.AllowPartialFailure, "analysis step %s tolerates sibling failure", kind)
		assert.Equal(t, []string{steps.KindUpload}, job.DependsOn)
		assert.Equal(t, "ws1", job.Input["workspace"])
		assert.Equal(t, "t2", job.Input["taskRef"])
	}

	assert.False(t, f.Jobs[steps.KindUpload].AllowPartialFailure)
	assert.ElementsMatch(t,
		[]string{steps.KindLabelDetection, steps.KindObjectTracking, steps.KindSpeechTranscription},
		f.Jobs[steps.KindFinalizeLabels].DependsOn)
}

func TestBuildDetectLabelsExplicitProcessorsWin(t *testing.T) {
	f, err := Build(detectLabelsTask(map[string]interface{}{
		"mediaId":    "m1",
		"fileRef":    "gs://bucket/media/m1/source.mp4",
		"processors": []interface{}{steps.KindFaceDetection, "not-a-processor"},
	}), core.DefaultConfig())
	require.NoError(t, err)

	require.Len(t, f.Jobs, 3)
	assert.Contains(t, f.Jobs, steps.KindFaceDetection)
	assert.NotContains(t, f.Jobs, steps.KindLabelDetection)
}

func TestBuildDetectLabelsNormalizeNode(t *testing.T) {
	f, err := Build(detectLabelsTask(map[string]interface{}{
		"mediaId":    "m1",
		"fileRef":    "/tmp/source.mp4",
		"normalize":  true,
		"processors": []interface{}{steps.KindLabelDetection},
	}), core.DefaultConfig())
	require.NoError(t, err)

	require.Contains(t, f.Jobs, steps.KindNormalize)
	assert.Equal(t, []string{steps.KindLabelDetection}, f.Jobs[steps.KindNormalize].DependsOn)
	assert.ElementsMatch(t,
		[]string{steps.KindLabelDetection, steps.KindNormalize},
		f.Jobs[steps.KindFinalizeLabels].DependsOn)
}

func TestBuildDetectLabelsDefaultsVersion(t *testing.T) {
	f, err := Build(detectLabelsTask(map[string]interface{}{
		"mediaId":    "m1",
		"fileRef":    "/tmp/source.mp4",
		"processors": []interface{}{steps.KindLabelDetection},
	}), core.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, f.Jobs[steps.KindLabelDetection].Input["version"])
}

func TestBuildDetectLabelsNoProcessors(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Providers = core.ProviderFlags{}

	_, err := Build(detectLabelsTask(map[string]interface{}{
		"mediaId": "m1",
		"fileRef": "/tmp/source.mp4",
	}), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestBuildDetectLabelsRequiresMediaAndFile(t *testing.T) {
	_, err := Build(detectLabelsTask(map[string]interface{}{"mediaId": "m1"}), core.DefaultConfig())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestBuildUnknownTaskKind(t *testing.T) {
	task := core.NewTask("t3", core.TaskKind("defragment"), nil)
	_, err := Build(task, core.DefaultConfig())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
