package clipvault_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/clipvault"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    clipvault.VideoStatus
		to      clipvault.VideoStatus
		allowed bool
	}{
		{"uploading to uploaded", clipvault.VideoStatusUploading, clipvault.VideoStatusUploaded, true},
		{"uploaded to processing", clipvault.VideoStatusUploaded, clipvault.VideoStatusProcessing, true},
		{"processing to ready", clipvault.VideoStatusProcessing, clipvault.VideoStatusReady, true},
		{"processing to processing on redelivery", clipvault.VideoStatusProcessing, clipvault.VideoStatusProcessing, true},
		{"uploading to failed", clipvault.VideoStatusUploading, clipvault.VideoStatusFailed, true},
		{"processing to failed", clipvault.VideoStatusProcessing, clipvault.VideoStatusFailed, true},
		{"uploading skips uploaded", clipvault.VideoStatusUploading, clipvault.VideoStatusProcessing, false},
		{"uploaded skips processing", clipvault.VideoStatusUploaded, clipvault.VideoStatusReady, false},
		{"ready is terminal", clipvault.VideoStatusReady, clipvault.VideoStatusFailed, false},
		{"failed is terminal", clipvault.VideoStatusFailed, clipvault.VideoStatusProcessing, false},
		{"no going backwards", clipvault.VideoStatusProcessing, clipvault.VideoStatusUploaded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPartCount(t *testing.T) {
	tests := []struct {
		name      string
		sizeBytes int64
		partSize  int64
		want      int
	}{
		{"exact multiple", 10 << 20, clipvault.PartSize, 2},
		{"remainder adds a part", (10 << 20) + 1, clipvault.PartSize, 3},
		{"smaller than one part", 100, clipvault.PartSize, 1},
		{"zero size", 0, clipvault.PartSize, 0},
		{"zero part size", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clipvault.PartCount(tt.sizeBytes, tt.partSize))
		})
	}
}

func TestExpiryFromPreset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		preset   clipvault.ExpiryPreset
		expected time.Duration
	}{
		{"one hour", clipvault.ExpiryPreset1Hour, time.Hour},
		{"twelve hours", clipvault.ExpiryPreset12Hours, 12 * time.Hour},
		{"one day", clipvault.ExpiryPreset1Day, 24 * time.Hour},
		{"thirty days", clipvault.ExpiryPreset30Days, 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := clipvault.ExpiryFromPreset(tt.preset, now)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, now.Add(tt.expected), *got)
		})
	}

	t.Run("forever never expires", func(t *testing.T) {
		got, err := clipvault.ExpiryFromPreset(clipvault.ExpiryPresetForever, now)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty preset defaults to forever", func(t *testing.T) {
		got, err := clipvault.ExpiryFromPreset("", now)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown preset is rejected", func(t *testing.T) {
		_, err := clipvault.ExpiryFromPreset("fortnight", now)
		assert.ErrorIs(t, err, clipvault.ErrInvalidRequest)
	})
}

func TestShareLinkExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&clipvault.ShareLink{}).Expired(now))
	assert.False(t, (&clipvault.ShareLink{ExpiresAt: &future}).Expired(now))
	assert.True(t, (&clipvault.ShareLink{ExpiresAt: &past}).Expired(now))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"clip.mp4", "clip.mp4"},
		{"my holiday video.mp4", "my_holiday_video.mp4"},
		{"../../etc/passwd", "____etc_passwd"},
		{"a#b?c&d.mp4", "a_b_c_d.mp4"},
		{"", "unnamed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, clipvault.SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestObjectKeys(t *testing.T) {
	owner := uuid.New()
	now := time.Now()

	key := clipvault.DefaultObjectKey(owner, "clip.mp4", now)
	assert.True(t, strings.HasPrefix(key, "videos/"+owner.String()+"/"))
	assert.True(t, strings.HasSuffix(key, "/clip.mp4"))

	// Two keys for the same instant must still differ.
	assert.NotEqual(t, key, clipvault.DefaultObjectKey(owner, "clip.mp4", now))

	videoID := uuid.New()
	assert.Equal(t,
		"thumbnails/"+videoID.String()+"/thumb-3.jpg",
		clipvault.ThumbnailKey(videoID, 3))
}
