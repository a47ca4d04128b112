package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver(t *testing.T) {
	tcases := []struct {
		name   string
		labels map[string]string
		err    bool
	}{
		{
			name:   "default labels",
			labels: DefaultLabels(),
			err:    false,
		},
		{
			name:   "region subtag is accepted",
			labels: map[string]string{"French": "fr-CA"},
			err:    false,
		},
		{
			name:   "empty table",
			labels: map[string]string{},
			err:    true,
		},
		{
			name:   "invalid code",
			labels: map[string]string{"Klingon": "not a code!"},
			err:    true,
		},
		{
			name:   "undetermined code",
			labels: map[string]string{"Unknown": "und"},
			err:    true,
		},
		{
			name:   "blank label",
			labels: map[string]string{"  ": "en"},
			err:    true,
		},
		{
			name:   "conflicting folded labels",
			labels: map[string]string{"English": "en", "english": "es"},
			err:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewResolver(tc.labels)
			if tc.err {
				assert.Error(t, err, "expected error building resolver")
				assert.Nil(t, r, "expected nil resolver on error")
				return
			}
			assert.NoError(t, err, "expected no error building resolver")
			assert.NotNil(t, r, "expected resolver")
		})
	}
}

func TestResolve(t *testing.T) {
	r, err := NewResolver(DefaultLabels())
	require.NoError(t, err)

	tcases := []struct {
		name  string
		label string
		code  Code
		err   error
	}{
		{name: "english", label: "English", code: "en"},
		{name: "hindi", label: "Hindi", code: "hi"},
		{name: "spanish", label: "Spanish", code: "es"},
		{name: "case insensitive", label: "  spanish ", code: "es"},
		{name: "klingon", label: "Klingon", err: ErrUnsupportedLanguage},
		{name: "empty", label: "", err: ErrUnsupportedLanguage},
		{name: "code instead of label", label: "en", err: ErrUnsupportedLanguage},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			code, err := r.Resolve(tc.label)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err, "expected unsupported language error")
				assert.Empty(t, code, "expected no code for unsupported label")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestResolverCanonicalizesCodes(t *testing.T) {
	r, err := NewResolver(map[string]string{"English (US)": "EN-us", "French": "fr"})
	require.NoError(t, err)

	code, err := r.Resolve("English (US)")
	assert.NoError(t, err)
	assert.Equal(t, Code("en"), code, "expected region to be dropped from the code")
	assert.True(t, r.Supported("en"))
	assert.True(t, r.Supported("fr"))
	assert.False(t, r.Supported("de"))
}

func TestLabelAndLanguages(t *testing.T) {
	r, err := NewResolver(DefaultLabels())
	require.NoError(t, err)

	assert.Equal(t, "Hindi", r.Label("hi"))
	assert.Equal(t, "de", r.Label("de"), "expected unknown code to be echoed back")

	assert.Equal(t, []Language{
		{Label: "English", Code: "en"},
		{Label: "Hindi", Code: "hi"},
		{Label: "Spanish", Code: "es"},
	}, r.Languages())
}
