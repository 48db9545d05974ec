package faketitle

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helm-app/landregistry/common/landtitle"
)

func TestSubmission_IsValid(t *testing.T) {
	f := gofakeit.New(42)
	for i := 0; i < 200; i++ {
		s := Submission(f, 5)
		require.NoError(t, landtitle.Validate(s, landtitle.DefaultLimits()), "submission %d: %+v", i, s.Fields)
		assert.LessOrEqual(t, len(s.Attachments), 5)
		assert.NotEmpty(t, s.ID)
		assert.Regexp(t, `^[a-z]{8}@example\.ph$`, s.Fields.EmailAddress)
	}
}

func TestRaw_ParsesBack(t *testing.T) {
	f := gofakeit.New(7)
	for i := 0; i < 100; i++ {
		want := Fields(f)
		got, err := landtitle.ParseFields(Raw(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
