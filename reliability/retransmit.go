package reliability

import (
	"github.com/ddsgo/rdds/core/seqnum"
)

// ResendItem is one cached change the writer must re-send in response to
// a NACK.
type ResendItem struct {
	Change      *Change
	Fragment    bool
	PayloadSize int
}

// GapRange is a contiguous span of sequence numbers the writer no longer
// holds and must announce via GAP instead of resending, per distilled
// spec §4.3's "samples no longer in the cache are replied with GAP
// covering the missing range".
type GapRange struct {
	From, To seqnum.SequenceNumber
}

// ResendPlan is the result of applying a NACK's missing-sequence set
// against a HistoryCache: items to resend, plus ranges to GAP instead.
type ResendPlan struct {
	Resend []ResendItem
	Gaps   []GapRange
}

// PlanRetransmission walks the sequence numbers requested in missing (in
// ascending order) and decides, per distilled spec §4.3's retransmission
// policy, whether each is still cached (resend as DATA or DATA_FRAG
// depending on size against FragmentSizeThreshold) or must be GAP'd
// because the writer already evicted it.
func PlanRetransmission(cache *HistoryCache, missing []seqnum.SequenceNumber) ResendPlan {
	var plan ResendPlan
	var gapStart seqnum.SequenceNumber
	inGap := false

	flushGap := func(end seqnum.SequenceNumber) {
		if inGap {
			plan.Gaps = append(plan.Gaps, GapRange{From: gapStart, To: end})
			inGap = false
		}
	}

	for _, seq := range missing {
		ch := cache.Get(seq)
		if ch == nil {
			if !inGap {
				inGap = true
				gapStart = seq
			}
			continue
		}
		flushGap(seq - 1)
		plan.Resend = append(plan.Resend, ResendItem{
			Change:      ch,
			Fragment:    len(ch.Payload) > FragmentSizeThreshold,
			PayloadSize: len(ch.Payload),
		})
	}
	if inGap && len(missing) > 0 {
		flushGap(missing[len(missing)-1])
	}
	return plan
}

// FragmentSizes splits payload into FragmentPayloadSize-sized chunks for
// DATA_FRAG transmission, per distilled spec §4.3 (default 32 KiB
// fragment size below the 64 KiB fragmentation threshold).
func FragmentSizes(payloadLen int) []int {
	if payloadLen <= FragmentSizeThreshold {
		return []int{payloadLen}
	}
	var sizes []int
	remaining := payloadLen
	for remaining > 0 {
		n := FragmentPayloadSize
		if n > remaining {
			n = remaining
		}
		sizes = append(sizes, n)
		remaining -= n
	}
	return sizes
}
