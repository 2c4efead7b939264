package metadata

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubledice/ddindexer/internal/domain"
)

func sample() Decoded {
	return Decoded{
		Category:    "sports",
		Subcategory: "football",
		Title:       "Final",
		Description: "Who lifts the cup?",
		IsListed:    true,
		Opponents: []OpponentMeta{
			{Title: "Reds", Image: "https://img.example/reds.png"},
			{Title: "Blues", Image: "https://img.example/blues.png"},
		},
		Outcomes: []OutcomeMeta{
			{Title: "Reds win"},
			{Title: "Blues win"},
			{Title: "Draw"},
		},
		ResultSources: []ResultSourceMeta{
			{Title: "Official site", URL: "https://example.org/results"},
		},
		DiscordChannelID: "123456789",
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	blob, err := Encode(sample())
	require.NoError(t, err)
	require.Equal(t, VersionV1, blob.Version)

	got, err := ABIDecoder{}.Decode(blob)
	require.NoError(t, err)

	assert.Equal(t, "sports", got.Category)
	assert.Equal(t, "football", got.Subcategory)
	assert.Equal(t, "Final", got.Title)
	assert.True(t, got.IsListed)
	require.Len(t, got.Opponents, 2)
	assert.Equal(t, "Blues", got.Opponents[1].Title)
	require.Len(t, got.Outcomes, 3)
	assert.Equal(t, "Draw", got.Outcomes[2].Title)
	require.Len(t, got.ResultSources, 1)
	assert.Equal(t, "https://example.org/results", got.ResultSources[0].URL)
	assert.Equal(t, "123456789", got.DiscordChannelID)
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	blob, err := Encode(sample())
	require.NoError(t, err)
	blob.Version = common.BigToHash(common.Big2)

	_, err = ABIDecoder{}.Decode(blob)
	require.Error(t, err)

	var uv *domain.UnsupportedMetadataVersionError
	assert.ErrorAs(t, err, &uv)
}

func TestDecodeGarbagePayload(t *testing.T) {
	_, err := ABIDecoder{}.Decode(domain.EncodedMetadata{
		Version: VersionV1,
		Data:    []byte{0x01, 0x02, 0x03},
	})
	assert.Error(t, err)
}
