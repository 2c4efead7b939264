package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/metadata"
)

func TestDecodeEventKinds(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{
		"kind": "PaymentTokenWhitelistUpdate",
		"block": 10, "txIndex": 2, "logIndex": 5,
		"txHash": "0x00000000000000000000000000000000000000000000000000000000000000aa",
		"timestamp": 1700000000,
		"payload": {"token": "0x1000000000000000000000000000000000000001", "whitelisted": true}
	}`))
	require.NoError(t, err)
	wl, ok := ev.(domain.PaymentTokenWhitelistUpdate)
	require.True(t, ok)
	assert.Equal(t, testToken, wl.Token)
	assert.True(t, wl.Whitelisted)
	assert.Equal(t, domain.EventPosition{BlockNumber: 10, TxIndex: 2, LogIndex: 5}, wl.Position)

	ev, err = DecodeEvent([]byte(`{
		"kind": "UserCommitment",
		"block": 11, "txIndex": 0, "logIndex": 1,
		"txHash": "0x00000000000000000000000000000000000000000000000000000000000000bb",
		"timestamp": 1700000100,
		"payload": {
			"virtualFloorId": "0x1",
			"committer": "0xa000000000000000000000000000000000000001",
			"outcomeIndex": 1,
			"timeslot": 1700000100,
			"amount": "100000000",
			"beta_e18": "1500000000000000000",
			"tokenId": "601"
		}
	}`))
	require.NoError(t, err)
	uc, ok := ev.(domain.UserCommitment)
	require.True(t, ok)
	assert.Equal(t, "0x1", domain.BigIntID(uc.VirtualFloorID))
	assert.Equal(t, int64(100_000_000), uc.Amount.Int64())
	assert.Equal(t, int64(601), uc.TokenID.Int64())
}

func TestDecodeEventRejectsBadInput(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"kind": "NoSuchEvent", "payload": {}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event kind")

	_, err = DecodeEvent([]byte(`{
		"kind": "VirtualFloorResolution",
		"payload": {"virtualFloorId": "1", "winningOutcomeIndex": 0, "resolutionType": 9, "winnerProfits": "0"}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid resolution type")

	_, err = DecodeEvent([]byte(`{
		"kind": "UserCommitment",
		"payload": {"virtualFloorId": "not-a-number"}
	}`))
	require.Error(t, err)
}

func TestFileSourceReadsStream(t *testing.T) {
	blob := encodedMetadata(t, 2)
	path := filepath.Join(t.TempDir(), "events.jsonl")

	lines := fmt.Sprintf(`# replayed from block 10
{"kind":"PaymentTokenWhitelistUpdate","block":10,"txIndex":0,"logIndex":1,"txHash":"0x00000000000000000000000000000000000000000000000000000000000000aa","timestamp":1000,"payload":{"token":"0x1000000000000000000000000000000000000001","whitelisted":true}}

{"kind":"VirtualFloorCreation","block":11,"txIndex":0,"logIndex":1,"txHash":"0x00000000000000000000000000000000000000000000000000000000000000bb","timestamp":1010,"payload":{"virtualFloorId":"1","creator":"0xa000000000000000000000000000000000000001","paymentToken":"0x1000000000000000000000000000000000000001","betaOpen_e18":"10000000000000000000","creationFeeRate_e18":"10000000000000000","platformFeeRate_e18":"100000000000000000","tOpen":2000,"tClose":3000,"tResolve":4000,"nOutcomes":2,"bonusAmount":"0","minCommitmentAmount":"1","maxCommitmentAmount":"1000000000","metadata":{"version":"%s","data":"%s"}}}
`,
		blob.Version.Hex(), hexutil.Encode(blob.Data))
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()

	ev, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPaymentTokenWhitelistUpdate, ev.Kind())

	ev, err = src.Next(ctx)
	require.NoError(t, err)
	vfc, ok := ev.(domain.VirtualFloorCreation)
	require.True(t, ok)
	assert.Equal(t, 2, vfc.NOutcomes)
	assert.Equal(t, metadata.VersionV1, vfc.Metadata.Version)

	// The blob must round-trip through the file encoding.
	decoded, err := metadata.ABIDecoder{}.Decode(vfc.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "crypto", decoded.Category)
	require.Len(t, decoded.Outcomes, 2)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
