package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildImageLoopGraph(t *testing.T) {
	assert.Equal(t,
		"fps=15,scale=400:-1:flags=lanczos[x];[x]split[x1][x2];[x1]palettegen[p];[x2][p]paletteuse",
		BuildImageLoopGraph(ImageLoopBase, ""))

	assert.Equal(t,
		"fps=15,scale=400:-1:flags=lanczos,drawtext=text='a'[x];[x]split[x1][x2];[x1]palettegen[p];[x2][p]paletteuse",
		BuildImageLoopGraph(ImageLoopBase, "drawtext=text='a'"))
}

func TestBuildVideoGraph(t *testing.T) {
	assert.Equal(t, "scale=-1:226:flags=lanczos", BuildVideoGraph(VideoBase, ""))
	assert.Equal(t, "scale=-1:226:flags=lanczos,drawtext=text='a'", BuildVideoGraph(VideoBase, "drawtext=text='a'"))
	assert.Equal(t, "null", BuildVideoGraph("", ""))
}

func TestRegistry_Defaults(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"gif", "mp4", "webm"}, r.Names())

	gif, err := r.Lookup("GIF")
	require.NoError(t, err)
	assert.Equal(t, KindImageLoop, gif.Kind)
	assert.Contains(t, gif.Graph(""), "palettegen")

	mp4, err := r.Lookup(".mp4")
	require.NoError(t, err)
	assert.Equal(t, KindVideo, mp4.Kind)
	assert.NotContains(t, mp4.Graph(""), "palettegen")
	assert.Contains(t, mp4.Params, "-crf")
}

func TestRegistry_RegisterCustomFormat(t *testing.T) {
	r := DefaultRegistry()
	require.NoError(t, r.Register("apng", Profile{
		Kind:   KindImageLoop,
		Base:   "fps=10",
		Build:  BuildVideoGraph,
		Params: []string{"-plays", "0"},
	}))

	p, err := r.Lookup("apng")
	require.NoError(t, err)
	assert.Equal(t, "fps=10", p.Graph(""))

	assert.Error(t, r.Register("", Profile{Build: BuildVideoGraph}))
	assert.Error(t, r.Register("broken", Profile{}))
}

func TestRegistry_Validate(t *testing.T) {
	r := DefaultRegistry()

	got, err := r.Validate([]string{"GIF", " mp4", "gif", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"gif", "mp4"}, got)

	_, err = r.Validate([]string{"gif", "avi", "mkv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "avi, mkv")

	_, err = r.Validate(nil)
	assert.Error(t, err)

	_, err = r.Lookup("avi")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
