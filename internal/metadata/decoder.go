// Package metadata decodes the opaque versioned description blob attached to
// floor-creation events. Exactly one blob version is understood; anything else
// is a fatal, non-retryable decode error.
package metadata

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/doubledice/ddindexer/internal/domain"
)

// VersionV1 is the only supported blob version tag.
var VersionV1 = common.BigToHash(common.Big1)

// Decoded is the floor description carried inside a V1 blob.
type Decoded struct {
	Category         string
	Subcategory      string
	Title            string
	Description      string
	IsListed         bool
	Opponents        []OpponentMeta
	Outcomes         []OutcomeMeta
	ResultSources    []ResultSourceMeta
	DiscordChannelID string
	ExtraData        []byte
}

type OpponentMeta struct {
	Title string
	Image string
}

type OutcomeMeta struct {
	Title string
}

type ResultSourceMeta struct {
	Title string
	URL   string
}

// Decoder turns an encoded blob into a Decoded description.
type Decoder interface {
	Decode(m domain.EncodedMetadata) (*Decoded, error)
}

// v1Tuple matches the ABI tuple layout of the V1 metadata struct. Field names
// follow the component names so ConvertType can map them.
type v1Tuple struct {
	Category         string
	Subcategory      string
	Title            string
	Description      string
	IsListed         bool
	Opponents        []v1Opponent
	Outcomes         []v1Outcome
	ResultSources    []v1ResultSource
	DiscordChannelId string
	ExtraData        []byte
}

type v1Opponent struct {
	Title string
	Image string
}

type v1Outcome struct {
	Title string
}

type v1ResultSource struct {
	Title string
	Url   string
}

var v1Args = func() abi.Arguments {
	typ, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "category", Type: "string"},
		{Name: "subcategory", Type: "string"},
		{Name: "title", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "isListed", Type: "bool"},
		{Name: "opponents", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "title", Type: "string"},
			{Name: "image", Type: "string"},
		}},
		{Name: "outcomes", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "title", Type: "string"},
		}},
		{Name: "resultSources", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "title", Type: "string"},
			{Name: "url", Type: "string"},
		}},
		{Name: "discordChannelId", Type: "string"},
		{Name: "extraData", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "metadata", Type: typ}}
}()

// ABIDecoder decodes V1 blobs. Zero value is ready to use.
type ABIDecoder struct{}

// Decode unpacks the blob payload. An unknown version yields an
// UnsupportedMetadataVersionError.
func (ABIDecoder) Decode(m domain.EncodedMetadata) (*Decoded, error) {
	if m.Version != VersionV1 {
		return nil, &domain.UnsupportedMetadataVersionError{Version: m.Version.Hex()}
	}

	values, err := v1Args.Unpack(m.Data)
	if err != nil {
		return nil, fmt.Errorf("metadata: unpack v1 blob: %w", err)
	}
	raw := *abi.ConvertType(values[0], new(v1Tuple)).(*v1Tuple)

	d := &Decoded{
		Category:         raw.Category,
		Subcategory:      raw.Subcategory,
		Title:            raw.Title,
		Description:      raw.Description,
		IsListed:         raw.IsListed,
		DiscordChannelID: raw.DiscordChannelId,
		ExtraData:        raw.ExtraData,
	}
	for _, o := range raw.Opponents {
		d.Opponents = append(d.Opponents, OpponentMeta{Title: o.Title, Image: o.Image})
	}
	for _, o := range raw.Outcomes {
		d.Outcomes = append(d.Outcomes, OutcomeMeta{Title: o.Title})
	}
	for _, r := range raw.ResultSources {
		d.ResultSources = append(d.ResultSources, ResultSourceMeta{Title: r.Title, URL: r.Url})
	}
	return d, nil
}

// Encode packs a description into a V1 blob. Used by fixtures and by
// operational tooling that replays floors into a test stream.
func Encode(d Decoded) (domain.EncodedMetadata, error) {
	raw := v1Tuple{
		Category:         d.Category,
		Subcategory:      d.Subcategory,
		Title:            d.Title,
		Description:      d.Description,
		IsListed:         d.IsListed,
		Opponents:        []v1Opponent{},
		Outcomes:         []v1Outcome{},
		ResultSources:    []v1ResultSource{},
		DiscordChannelId: d.DiscordChannelID,
		ExtraData:        d.ExtraData,
	}
	if raw.ExtraData == nil {
		raw.ExtraData = []byte{}
	}
	for _, o := range d.Opponents {
		raw.Opponents = append(raw.Opponents, v1Opponent{Title: o.Title, Image: o.Image})
	}
	for _, o := range d.Outcomes {
		raw.Outcomes = append(raw.Outcomes, v1Outcome{Title: o.Title})
	}
	for _, r := range d.ResultSources {
		raw.ResultSources = append(raw.ResultSources, v1ResultSource{Title: r.Title, Url: r.URL})
	}

	data, err := v1Args.Pack(raw)
	if err != nil {
		return domain.EncodedMetadata{}, fmt.Errorf("metadata: pack v1 blob: %w", err)
	}
	return domain.EncodedMetadata{Version: VersionV1, Data: data}, nil
}
