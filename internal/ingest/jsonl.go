package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/doubledice/ddindexer/internal/domain"
)

// BigInt unmarshals a JSON string in decimal or 0x-hex form into a big.Int.
type BigInt big.Int

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return fmt.Errorf("invalid integer %q", s)
	}
	*b = BigInt(*n)
	return nil
}

func (b *BigInt) Int() *big.Int { return (*big.Int)(b) }

// envelope is one line of a JSONL event file.
type envelope struct {
	Kind      domain.EventKind `json:"kind"`
	Block     uint64           `json:"block"`
	TxIndex   uint             `json:"txIndex"`
	LogIndex  uint             `json:"logIndex"`
	TxHash    common.Hash      `json:"txHash"`
	Timestamp uint64           `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// FileSource reads events from a JSONL file, one envelope per line. Blank
// lines and lines starting with # are skipped.
type FileSource struct {
	f    *os.File
	sc   *bufio.Scanner
	line int
}

// OpenFile opens a JSONL event file as a Source.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open event file: %w", err)
	}
	sc := bufio.NewScanner(f)
	// Creation events carry the full metadata blob, which does not fit the
	// default scanner buffer.
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	return &FileSource{f: f, sc: sc}, nil
}

func (s *FileSource) Close() error { return s.f.Close() }

// Next returns the next event, or io.EOF at end of file.
func (s *FileSource) Next(ctx context.Context) (domain.Event, error) {
	for s.sc.Scan() {
		s.line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(s.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := DecodeEvent([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", s.line, err)
		}
		return ev, nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, fmt.Errorf("ingest: read event file: %w", err)
	}
	return nil, io.EOF
}

// DecodeEvent parses one JSON envelope into its typed event.
func DecodeEvent(data []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	meta := domain.EventMeta{
		Position: domain.EventPosition{
			BlockNumber: env.Block,
			TxIndex:     env.TxIndex,
			LogIndex:    env.LogIndex,
		},
		TxHash:         env.TxHash,
		BlockTimestamp: env.Timestamp,
	}

	ev, err := decodePayload(env.Kind, meta, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return ev, nil
}

func decodePayload(kind domain.EventKind, meta domain.EventMeta, payload json.RawMessage) (domain.Event, error) {
	switch kind {
	case domain.KindPaymentTokenWhitelistUpdate:
		var p struct {
			Token       common.Address `json:"token"`
			Whitelisted bool           `json:"whitelisted"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return domain.PaymentTokenWhitelistUpdate{
			EventMeta: meta, Token: p.Token, Whitelisted: p.Whitelisted,
		}, nil

	case domain.KindVirtualFloorCreation:
		var p struct {
			VirtualFloorID      BigInt         `json:"virtualFloorId"`
			Creator             common.Address `json:"creator"`
			PaymentToken        common.Address `json:"paymentToken"`
			BetaOpenE18         BigInt         `json:"betaOpen_e18"`
			CreationFeeRateE18  BigInt         `json:"creationFeeRate_e18"`
			PlatformFeeRateE18  BigInt         `json:"platformFeeRate_e18"`
			TOpen               uint64         `json:"tOpen"`
			TClose              uint64         `json:"tClose"`
			TResolve            uint64         `json:"tResolve"`
			NOutcomes           int            `json:"nOutcomes"`
			BonusAmount         BigInt         `json:"bonusAmount"`
			MinCommitmentAmount BigInt         `json:"minCommitmentAmount"`
			MaxCommitmentAmount BigInt         `json:"maxCommitmentAmount"`
			Metadata            struct {
				Version common.Hash   `json:"version"`
				Data    hexutil.Bytes `json:"data"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return domain.VirtualFloorCreation{
			EventMeta:           meta,
			VirtualFloorID:      p.VirtualFloorID.Int(),
			Creator:             p.Creator,
			PaymentToken:        p.PaymentToken,
			BetaOpenE18:         p.BetaOpenE18.Int(),
			CreationFeeRateE18:  p.CreationFeeRateE18.Int(),
			PlatformFeeRateE18:  p.PlatformFeeRateE18.Int(),
			TOpen:               p.TOpen,
			TClose:              p.TClose,
			TResolve:            p.TResolve,
			NOutcomes:           p.NOutcomes,
			BonusAmount:         p.BonusAmount.Int(),
			MinCommitmentAmount: p.MinCommitmentAmount.Int(),
			MaxCommitmentAmount: p.MaxCommitmentAmount.Int(),
			Metadata: domain.EncodedMetadata{
				Version: p.Metadata.Version,
				Data:    p.Metadata.Data,
			},
		}, nil

	case domain.KindUserCommitment:
		var p struct {
			VirtualFloorID BigInt         `json:"virtualFloorId"`
			Committer      common.Address `json:"committer"`
			OutcomeIndex   int            `json:"outcomeIndex"`
			Timeslot       uint64         `json:"timeslot"`
			Amount         BigInt         `json:"amount"`
			BetaE18        BigInt         `json:"beta_e18"`
			TokenID        BigInt         `json:"tokenId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return domain.UserCommitment{
			EventMeta:      meta,
			VirtualFloorID: p.VirtualFloorID.Int(),
			Committer:      p.Committer,
			OutcomeIndex:   p.OutcomeIndex,
			Timeslot:       p.Timeslot,
			Amount:         p.Amount.Int(),
			BetaE18:        p.BetaE18.Int(),
			TokenID:        p.TokenID.Int(),
		}, nil

	case domain.KindTransferSingle:
		var p struct {
			From    common.Address `json:"from"`
			To      common.Address `json:"to"`
			TokenID BigInt         `json:"id"`
			Value   BigInt         `json:"value"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return domain.TransferSingle{
			EventMeta: meta, From: p.From, To: p.To,
			TokenID: p.TokenID.Int(), Value: p.Value.Int(),
		}, nil

	case domain.KindTransferBatch:
		var p struct {
			From   common.Address `json:"from"`
			To     common.Address `json:"to"`
			IDs    []BigInt       `json:"ids"`
			Values []BigInt       `json:"values"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ev := domain.TransferBatch{EventMeta: meta, From: p.From, To: p.To}
		for i := range p.IDs {
			ev.TokenIDs = append(ev.TokenIDs, p.IDs[i].Int())
		}
		for i := range p.Values {
			ev.Values = append(ev.Values, p.Values[i].Int())
		}
		return ev, nil

	case domain.KindVirtualFloorCancellationUnresolvable:
		var p struct {
			VirtualFloorID BigInt `json:"virtualFloorId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return domain.VirtualFloorCancellationUnresolvable{
			EventMeta: meta, VirtualFloorID: p.VirtualFloorID.Int(),
		}, nil

	case domain.KindVirtualFloorCancellationFlagged:
		var p struct {
			VirtualFloorID BigInt `json:"virtualFloorId"`
			Reason         string `json:"reason"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return domain.VirtualFloorCancellationFlagged{
			EventMeta: meta, VirtualFloorID: p.VirtualFloorID.Int(), Reason: p.Reason,
		}, nil

	case domain.KindVirtualFloorResolution:
		var p struct {
			VirtualFloorID      BigInt `json:"virtualFloorId"`
			WinningOutcomeIndex int    `json:"winningOutcomeIndex"`
			ResolutionType      uint8  `json:"resolutionType"`
			WinnerProfits       BigInt `json:"winnerProfits"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		rt := domain.VirtualFloorResolutionType(p.ResolutionType)
		if !rt.Valid() {
			return nil, fmt.Errorf("invalid resolution type %d", p.ResolutionType)
		}
		return domain.VirtualFloorResolution{
			EventMeta:           meta,
			VirtualFloorID:      p.VirtualFloorID.Int(),
			WinningOutcomeIndex: p.WinningOutcomeIndex,
			ResolutionType:      rt,
			WinnerProfits:       p.WinnerProfits.Int(),
		}, nil

	case domain.KindCreationQuotaAdjustments:
		var p struct {
			Adjustments []struct {
				Creator        common.Address `json:"creator"`
				RelativeAmount int64          `json:"relativeAmount"`
			} `json:"adjustments"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ev := domain.CreationQuotaAdjustments{EventMeta: meta}
		for _, adj := range p.Adjustments {
			ev.Adjustments = append(ev.Adjustments, domain.QuotaAdjustment{
				Creator: adj.Creator, RelativeAmount: adj.RelativeAmount,
			})
		}
		return ev, nil

	case domain.KindResultUpdate:
		var p struct {
			VirtualFloorID BigInt         `json:"virtualFloorId"`
			Operator       common.Address `json:"operator"`
			Action         uint8          `json:"action"`
			OutcomeIndex   int            `json:"outcomeIndex"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		action := domain.ResultUpdateAction(p.Action)
		if !action.Valid() {
			return nil, fmt.Errorf("invalid result-update action %d", p.Action)
		}
		return domain.ResultUpdate{
			EventMeta:      meta,
			VirtualFloorID: p.VirtualFloorID.Int(),
			Operator:       p.Operator,
			Action:         action,
			OutcomeIndex:   p.OutcomeIndex,
		}, nil

	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
