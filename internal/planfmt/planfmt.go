// Package planfmt serializes a planner.Plan to the binary format behind
// --plan FILE and --dry-run's machine-readable report: a canonical CBOR
// body framed by a small fixed preamble and header, plus a BLAKE2b-256
// hash of the target and body so two planning passes over an unchanged
// manifest tree produce byte-identical, independently verifiable output.
package planfmt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/run-z/runz/core/attrs"
	"github.com/run-z/runz/core/spec"
	"github.com/run-z/runz/internal/pkgmodel"
	"github.com/run-z/runz/internal/planner"
)

const (
	// Magic identifies a run-z plan file (4 bytes).
	Magic = "RNZP"

	// Version is the format version (uint16, little-endian). Breaking
	// changes increment it; this package never attempts to read a
	// version it wasn't built against.
	Version uint16 = 0x0001
)

// Flags is a bitmask for optional framing features. No bits are defined
// yet; the field exists so a future addition (e.g. compression) doesn't
// require a new magic.
type Flags uint16

func validateUint16(value int, field string) error {
	if value > math.MaxUint16 {
		return fmt.Errorf("planfmt: %s %d exceeds maximum %d", field, value, math.MaxUint16)
	}
	return nil
}

// Meta carries the plan file's metadata fields: everything that
// describes the circumstances a plan was produced under, as opposed to
// the plan's own execution semantics. Excluded from the content hash,
// per WritePlan's doc comment, so re-stamping CreatedAt never
// invalidates a previously recorded hash.
type Meta struct {
	CreatedAt uint64
	Compiler  string
}

// CallDoc is one Call's canonical, hash-stable projection: every field
// that affects what the call does, keyed by a full hex CallID rather
// than a Go pointer or map iteration order.
type CallDoc struct {
	ID      string              `cbor:"id"`
	Package string              `cbor:"package"`
	Task    string              `cbor:"task"`
	Action  string              `cbor:"action"`
	Command string              `cbor:"command,omitempty"`
	Attrs   map[string][]string `cbor:"attrs,omitempty"`
	Args    []string            `cbor:"args,omitempty"`
}

// ParallelPair is one unordered pair of CallIDs hinted as concurrent,
// normalized so A < B and deduplicated, so the same Plan always encodes
// to the same pair list regardless of Go map iteration order.
type ParallelPair struct {
	A string `cbor:"a"`
	B string `cbor:"b"`
}

// PlanDoc is the canonical CBOR body: the whole of a Plan's execution
// semantics, and nothing else.
type PlanDoc struct {
	Root          string              `cbor:"root"`
	Calls         []CallDoc           `cbor:"calls"`
	Prerequisites map[string][]string `cbor:"prerequisites,omitempty"`
	Parallel      []ParallelPair      `cbor:"parallel,omitempty"`
}

// canonicalPlanDocAlias breaks the recursion MarshalBinary would
// otherwise cause: cbor would call PlanDoc.MarshalBinary on itself.
type canonicalPlanDocAlias PlanDoc

// MarshalBinary produces deterministic CBOR encoding of the plan body.
// CBOR's canonical map-key ordering is what makes Prerequisites and
// Attrs reproducible across runs despite Go's randomized map iteration;
// Calls and Parallel are pre-sorted by ToDoc so they don't rely on it.
func (d *PlanDoc) MarshalBinary() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	alias := (*canonicalPlanDocAlias)(d)
	return encMode.Marshal(alias)
}

func hexID(id planner.CallID) string {
	return hex.EncodeToString(id[:])
}

// ToDoc projects p into its canonical body form. Call order follows
// p.Order (the plan's own deterministic first-encountered order);
// prerequisite and parallel-pair entries are keyed and sorted by hex
// CallID so the result never depends on Go's map iteration order.
func ToDoc(p *planner.Plan) *PlanDoc {
	doc := &PlanDoc{
		Root:  hexID(p.Root),
		Calls: make([]CallDoc, 0, len(p.Order)),
	}

	for _, id := range p.Order {
		call := p.Calls[id]
		doc.Calls = append(doc.Calls, CallDoc{
			ID:      hexID(id),
			Package: call.Package.Location.Path(),
			Task:    call.Task.Name,
			Action:  call.Task.Spec.Action.Kind.String(),
			Command: call.Task.Spec.Action.Command,
			Attrs:   map[string][]string(call.Attrs),
			Args:    call.Args,
		})
	}

	if len(p.Prerequisites) > 0 {
		doc.Prerequisites = make(map[string][]string, len(p.Prerequisites))
		for id, pres := range p.Prerequisites {
			ids := make([]string, len(pres))
			for i, pre := range pres {
				ids[i] = hexID(pre)
			}
			doc.Prerequisites[hexID(id)] = ids
		}
	}

	doc.Parallel = parallelPairs(p)
	return doc
}

func parallelPairs(p *planner.Plan) []ParallelPair {
	type key struct{ a, b string }
	seen := make(map[key]bool)
	var pairs []ParallelPair
	for a, partners := range p.Parallel {
		for b := range partners {
			ha, hb := hexID(a), hexID(b)
			if ha > hb {
				ha, hb = hb, ha
			}
			k := key{ha, hb}
			if seen[k] {
				continue
			}
			seen[k] = true
			pairs = append(pairs, ParallelPair{A: ha, B: hb})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// Write plans p (for target, the invoked task's display name) to w under
// meta, returning the BLAKE2b-256 hash of the target and body.
func Write(w io.Writer, p *planner.Plan, target string, meta Meta) ([32]byte, error) {
	wr := &Writer{w: w}
	return wr.WritePlan(p, target, meta)
}

// Writer writes plans to the binary format.
type Writer struct {
	w io.Writer
}

// WritePlan writes p to the underlying writer.
//
// Format: MAGIC(4) | VERSION(2) | FLAGS(2) | HEADER_LEN(4) | BODY_LEN(8) | HEADER | BODY
//
// Returns the BLAKE2b-256 hash of target + body. Header metadata
// (CreatedAt, Compiler) is deliberately excluded from the hash: only
// execution semantics should affect it, so re-running the same entry
// task a minute later, or with a different run-z build, doesn't change
// the recorded hash as long as the plan itself is unchanged.
func (wr *Writer) WritePlan(p *planner.Plan, target string, meta Meta) ([32]byte, error) {
	body, err := ToDoc(p).MarshalBinary()
	if err != nil {
		return [32]byte{}, err
	}

	var headerBuf bytes.Buffer
	if err := writeHeader(&headerBuf, target, meta); err != nil {
		return [32]byte{}, err
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, err
	}
	if _, err := hasher.Write([]byte(target)); err != nil {
		return [32]byte{}, err
	}
	if _, err := hasher.Write(body); err != nil {
		return [32]byte{}, err
	}
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))

	var preambleBuf bytes.Buffer
	if err := writePreamble(&preambleBuf, uint32(headerBuf.Len()), uint64(len(body))); err != nil {
		return [32]byte{}, err
	}
	if _, err := wr.w.Write(preambleBuf.Bytes()); err != nil {
		return [32]byte{}, err
	}
	if _, err := wr.w.Write(headerBuf.Bytes()); err != nil {
		return [32]byte{}, err
	}
	if _, err := wr.w.Write(body); err != nil {
		return [32]byte{}, err
	}
	return digest, nil
}

func writePreamble(buf *bytes.Buffer, headerLen uint32, bodyLen uint64) error {
	if _, err := buf.WriteString(Magic); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, Version); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(0)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, headerLen); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, bodyLen)
}

func writeHeader(buf *bytes.Buffer, target string, meta Meta) error {
	if err := binary.Write(buf, binary.LittleEndian, meta.CreatedAt); err != nil {
		return err
	}
	if err := writeLengthPrefixed(buf, meta.Compiler); err != nil {
		return fmt.Errorf("compiler: %w", err)
	}
	if err := writeLengthPrefixed(buf, target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}

func writeLengthPrefixed(buf *bytes.Buffer, s string) error {
	if err := validateUint16(len(s), "field length"); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

// Document is a fully decoded plan file: its metadata, target, body, and
// the hash recomputed from the bytes actually read (never trusted
// as-stored, always recomputed, so a truncated or edited file is caught
// by the caller comparing it against a previously recorded hash).
type Document struct {
	Meta   Meta
	Target string
	Plan   *PlanDoc
	Hash   [32]byte
}

// Read decodes a plan file written by Write/WritePlan.
func Read(r io.Reader) (*Document, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("planfmt: read magic: %w", err)
	}
	if string(magic[:]) != Magic {
		return nil, fmt.Errorf("planfmt: bad magic %q, want %q", magic, Magic)
	}

	var version uint16
	var flags uint16
	var headerLen uint32
	var bodyLen uint64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("planfmt: read version: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("planfmt: unsupported version %#x", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("planfmt: read flags: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("planfmt: read header length: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &bodyLen); err != nil {
		return nil, fmt.Errorf("planfmt: read body length: %w", err)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("planfmt: read header: %w", err)
	}
	meta, target, err := parseHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("planfmt: read body: %w", err)
	}

	var doc PlanDoc
	if err := cbor.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("planfmt: decode body: %w", err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	hasher.Write([]byte(target))
	hasher.Write(body)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))

	return &Document{Meta: meta, Target: target, Plan: &doc, Hash: digest}, nil
}

func parseHeader(raw []byte) (Meta, string, error) {
	buf := bytes.NewReader(raw)

	var createdAt uint64
	if err := binary.Read(buf, binary.LittleEndian, &createdAt); err != nil {
		return Meta{}, "", fmt.Errorf("planfmt: read created-at: %w", err)
	}
	compiler, err := readLengthPrefixed(buf)
	if err != nil {
		return Meta{}, "", fmt.Errorf("planfmt: read compiler: %w", err)
	}
	target, err := readLengthPrefixed(buf)
	if err != nil {
		return Meta{}, "", fmt.Errorf("planfmt: read target: %w", err)
	}
	return Meta{CreatedAt: createdAt, Compiler: compiler}, target, nil
}

func readLengthPrefixed(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// PackageLoader loads the live *pkgmodel.Package located at path, for
// FromDoc to attach reconstructed Calls to. Callers typically wrap
// internal/discovery's Load + pkgmodel.New behind a small cache, the way
// internal/discovery.Resolver itself does.
type PackageLoader func(path string) (*pkgmodel.Package, error)

// FromDoc reconstructs a runnable Plan from a decoded PlanDoc without
// re-parsing any manifest script or replanning. Each CallDoc's recorded
// action kind, command text, attrs, and args become a synthetic Task
// attached to whatever package loadPackage resolves for its recorded
// path, so executing the result runs exactly what was recorded even if
// the package's manifest has since changed underneath it — this is the
// contract-verification property --plan FILE exists for.
func FromDoc(doc *PlanDoc, loadPackage PackageLoader) (*planner.Plan, error) {
	plan := &planner.Plan{
		Calls:         make(map[planner.CallID]*planner.Call, len(doc.Calls)),
		Prerequisites: make(map[planner.CallID][]planner.CallID, len(doc.Prerequisites)),
		Parallel:      make(map[planner.CallID]map[planner.CallID]bool),
		Order:         make([]planner.CallID, 0, len(doc.Calls)),
	}

	for _, cd := range doc.Calls {
		id, err := parseCallID(cd.ID)
		if err != nil {
			return nil, err
		}
		pkg, err := loadPackage(cd.Package)
		if err != nil {
			return nil, fmt.Errorf("planfmt: load package %s: %w", cd.Package, err)
		}
		kind, err := actionKindFromString(cd.Action)
		if err != nil {
			return nil, err
		}

		callAttrs := attrs.Attrs(cd.Attrs)
		if callAttrs == nil {
			callAttrs = attrs.New()
		}
		task := &pkgmodel.Task{
			Target: pkg,
			Name:   cd.Task,
			Spec: spec.TaskSpec{
				Attrs:  callAttrs,
				Action: spec.Action{Kind: kind, Command: cd.Command},
			},
		}
		plan.Calls[id] = &planner.Call{
			ID:      id,
			Package: pkg,
			Task:    task,
			Attrs:   callAttrs,
			Args:    cd.Args,
		}
		plan.Order = append(plan.Order, id)
	}

	root, err := parseCallID(doc.Root)
	if err != nil {
		return nil, err
	}
	plan.Root = root

	for parentHex, preHexes := range doc.Prerequisites {
		parent, err := parseCallID(parentHex)
		if err != nil {
			return nil, err
		}
		for _, preHex := range preHexes {
			pre, err := parseCallID(preHex)
			if err != nil {
				return nil, err
			}
			plan.Prerequisites[parent] = append(plan.Prerequisites[parent], pre)
		}
	}

	for _, pair := range doc.Parallel {
		a, err := parseCallID(pair.A)
		if err != nil {
			return nil, err
		}
		b, err := parseCallID(pair.B)
		if err != nil {
			return nil, err
		}
		plan.MakeParallel(a, b)
	}

	return plan, nil
}

func parseCallID(s string) (planner.CallID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return planner.CallID{}, fmt.Errorf("planfmt: invalid call id %q: %w", s, err)
	}
	if len(raw) != 32 {
		return planner.CallID{}, fmt.Errorf("planfmt: call id %q has wrong length", s)
	}
	var id planner.CallID
	copy(id[:], raw)
	return id, nil
}

func actionKindFromString(s string) (spec.ActionKind, error) {
	switch s {
	case spec.ActionGroup.String():
		return spec.ActionGroup, nil
	case spec.ActionCommand.String():
		return spec.ActionCommand, nil
	case spec.ActionScript.String():
		return spec.ActionScript, nil
	case spec.ActionUnknown.String():
		return spec.ActionUnknown, nil
	default:
		return 0, fmt.Errorf("planfmt: unknown action kind %q", s)
	}
}
