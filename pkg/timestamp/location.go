package timestamp

import (
	"fmt"
	"strings"

	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// The aggregation network is a four-tier topology: client machines feed
// local aggregators, locals feed state aggregators, states feed national
// ones, and the national layer feeds the core hashers. The position of each
// boundary is fixed by the architecture; a chain crossing a boundary spends
// a known number of steps on the machine and slot addressing of that tier.
const (
	hasherLevel    = 80
	gdepthTop      = 60
	gdepthNational = 39
	gdepthState    = 19

	slotBitsTop      = 3
	abBitsTop        = 3
	slotBitsNational = 2
	abBitsNational   = 3
	slotBitsState    = 2
	abBitsState      = 2

	topLevel      = gdepthTop + slotBitsTop + abBitsTop - 2                // 64
	nationalLevel = gdepthNational + slotBitsNational + abBitsNational - 2 // 42
	stateLevel    = gdepthState + slotBitsState + abBitsState - 2          // 22
)

// locationStack tracks the unconsumed chain steps while walking the
// location chain: for every counted step it holds the inverted direction
// bit and the step itself, so embedded name tags can be stripped before the
// remaining bits are read as numbers.
type locationStack struct {
	bits  []byte
	steps []hashchain.Step
}

func (s *locationStack) push(bit byte, step hashchain.Step) {
	s.bits = append(s.bits, bit)
	s.steps = append(s.steps, step)
}

// collect pops up to n bits, least recent last, and folds them into a
// number, most recently pushed bit first.
func (s *locationStack) collect(n int) uint64 {
	var v uint64
	for ; n > 0 && len(s.bits) > 0; n-- {
		top := len(s.bits) - 1
		v = v<<1 | uint64(s.bits[top])
		s.bits = s.bits[:top]
		s.steps = s.steps[:top]
	}
	return v
}

// collectAll drains the stack into a number.
func (s *locationStack) collectAll() uint64 {
	return s.collect(len(s.bits))
}

// takeName inspects the most recent unconsumed step for an embedded name
// tag: direction 1, a SHA-224 sibling whose first byte is zero, second byte
// a valid length, and zero padding after the name. A matching step is
// consumed and its name returned; it does not contribute a numeric bit.
func (s *locationStack) takeName() string {
	if len(s.steps) == 0 {
		return ""
	}
	step := s.steps[len(s.steps)-1]
	if step.Direction != 1 || step.Algorithm != hash.SHA224 {
		return ""
	}
	sibling := step.Sibling
	if sibling[0] != 0 {
		return ""
	}
	n := int(sibling[1])
	if 2+n > len(sibling) {
		return ""
	}
	for _, b := range sibling[2+n:] {
		if b != 0 {
			return ""
		}
	}
	name := string(sibling[2 : 2+n])
	s.bits = s.bits[:len(s.bits)-1]
	s.steps = s.steps[:len(s.steps)-1]
	return name
}

type locationInfo struct {
	hasher          uint64
	nationalCluster uint64
	nationalMachine uint64
	nationalSlot    uint64
	nationalName    string
	stateCluster    uint64
	stateMachine    uint64
	stateSlot       uint64
	stateName       string
	localCluster    uint64
	localMachine    uint64
	localSlot       uint64
	localName       string
	clientID        uint64
	clientName      string
}

// extractLocation recovers the issuer position and the embedded aggregator
// names from the shape of the location chain.
func extractLocation(chain []byte) (*locationInfo, error) {
	steps, err := hashchain.Parse(chain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hashchain.ErrMalformed, err)
	}

	var (
		stack     locationStack
		loc       locationInfo
		lastLevel = -1
		done      bool
	)

	for _, step := range steps {
		level := step.Level

		if level > hasherLevel && lastLevel <= hasherLevel {
			if level == 0xff {
				// Old two-hasher core: the direction of the final
				// step names the hasher.
				loc.hasher = uint64(1 + (1 - step.Direction))
			} else {
				// New core: the level byte carries the hasher number
				// offset by hasherLevel.
				loc.hasher = uint64(level - hasherLevel)
			}
			loc.nationalCluster = stack.collectAll()
			done = true
			break
		}
		if level > topLevel && lastLevel <= topLevel {
			loc.nationalMachine = stack.collect(abBitsTop)
			loc.nationalSlot = stack.collect(slotBitsTop)
			loc.nationalName = stack.takeName()
			loc.stateCluster = stack.collectAll()
		}
		if level > nationalLevel && lastLevel <= nationalLevel {
			loc.stateMachine = stack.collect(abBitsNational)
			loc.stateSlot = stack.collect(slotBitsNational)
			loc.stateName = stack.takeName()
			loc.localCluster = stack.collectAll()
		}
		if level > stateLevel && lastLevel <= stateLevel {
			loc.localMachine = stack.collect(abBitsState)
			loc.localSlot = stack.collect(slotBitsState)
			loc.localName = stack.takeName()
			loc.clientID = stack.collectAll()
		}
		if level > 1 && lastLevel <= 1 {
			loc.clientName = stack.takeName()
		}

		lastLevel = level
		stack.push(1-step.Direction, step)
	}

	if !done {
		return nil, fmt.Errorf("%w: location chain never reaches the hasher layer", hashchain.ErrMalformed)
	}

	return &loc, nil
}

// id packs the cluster addressing into the 64-bit location id.
func (loc *locationInfo) id() uint64 {
	return loc.nationalCluster<<48 | loc.stateCluster<<32 | loc.localCluster<<16 | loc.clientID
}

// name renders the human-readable issuer name. Tiers without an embedded
// name show their cluster number in brackets; the client part appears only
// when a client name is present. An entirely anonymous chain has no name.
func (loc *locationInfo) name() string {
	if loc.nationalName == "" && loc.stateName == "" && loc.localName == "" && loc.clientName == "" {
		return ""
	}

	part := func(name string, cluster uint64) string {
		if name != "" {
			return name
		}
		return fmt.Sprintf("[%d]", cluster)
	}

	var b strings.Builder
	b.WriteString(part(loc.nationalName, loc.nationalCluster))
	b.WriteString(" : ")
	b.WriteString(part(loc.stateName, loc.stateCluster))
	b.WriteString(" : ")
	b.WriteString(part(loc.localName, loc.localCluster))
	if loc.clientName != "" {
		b.WriteString(" : ")
		b.WriteString(loc.clientName)
	}
	return b.String()
}
