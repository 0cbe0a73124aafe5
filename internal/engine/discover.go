package engine

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/doctree"
	"github.com/agentic-research/strata/internal/extract"
)

// maxSectionDepth bounds how deep the section worklist will follow a
// document. Anything deeper is skipped with a warning.
const maxSectionDepth = 64

// Discovery walks a source tree exactly once, performing zero store
// operations, and produces every ContentNode and HierarchyEdge candidate
// annotated with its structural position. Re-running discovery on an
// unchanged tree yields identical natural keys in the same order.
type Discovery struct {
	owner api.OwnerContext
	log   *zap.Logger
}

// DiscoveryOutput is the flat result of one traversal.
type DiscoveryOutput struct {
	Document ContentNode
	// Sections holds section nodes grouped by nesting depth; index 0 is
	// the top level. Each group is one dependency wave.
	Sections [][]ContentNode
	// Blocks holds every content-family node, flat per family, in
	// document order.
	Blocks   map[api.Family][]ContentNode
	Edges    []EdgeCandidate
	Refs     []RefMention
	Warnings []api.Warning
}

func NewDiscovery(owner api.OwnerContext, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{owner: owner, log: logger}
}

func (d *Discovery) warn(out *DiscoveryOutput, code, node, msg string) {
	out.Warnings = append(out.Warnings, api.Warning{Code: code, Node: node, Msg: msg})
	d.log.Warn(msg, zap.String("node", node), zap.String("code", code))
}

// sectionWork is one entry of the explicit section worklist. The worklist
// replaces call-stack recursion so the dependency-depth loop is an
// ordinary iteration with a bounded depth.
type sectionWork struct {
	node      doctree.Node
	parentKey string
	depth     int
	seq       int
}

// Run traverses the tree rooted at root. It fails only when the root is
// not a document element; everything below that degrades to warnings.
func (d *Discovery) Run(root doctree.Node) (*DiscoveryOutput, error) {
	if root.Name() != "document" {
		return nil, fmt.Errorf("source root must be a document element, got %q", root.Name())
	}

	out := &DiscoveryOutput{Blocks: make(map[api.Family][]ContentNode)}

	code := root.Attr("code")
	if code == "" {
		code = d.owner.DocCode
	}
	title := root.Attr("title")
	if title == "" {
		title = d.owner.Title
	}
	out.Document = ContentNode{
		Family:     api.FamilyDocument,
		Seq:        1,
		NaturalKey: documentKey(d.owner.OwnerID, code),
		Code:       code,
		Title:      title,
		Source:     root,
	}

	// Breadth-first over sections: one worklist pass per nesting depth
	// yields the wave grouping the coordinator needs.
	var work []sectionWork
	for i, sec := range doctree.ChildrenNamed(root, "section") {
		work = append(work, sectionWork{node: sec, depth: 0, seq: i + 1})
	}

	for len(work) > 0 {
		var next []sectionWork
		for _, w := range work {
			key, ok := d.discoverSection(out, w)
			if !ok {
				continue
			}
			for i, sub := range doctree.ChildrenNamed(w.node, "section") {
				if w.depth+1 >= maxSectionDepth {
					d.warn(out, api.WarnValidation, key,
						fmt.Sprintf("section nesting exceeds %d levels, skipping deeper sections", maxSectionDepth))
					break
				}
				next = append(next, sectionWork{node: sub, parentKey: key, depth: w.depth + 1, seq: i + 1})
			}
		}
		work = next
	}

	d.discoverLots(out, root)
	return out, nil
}

// discoverSection records one section node plus its content blocks.
// Returns the section's natural key and false when the section was
// malformed and skipped (its whole subtree is dropped).
func (d *Discovery) discoverSection(out *DiscoveryOutput, w sectionWork) (string, bool) {
	code := w.node.Attr("code")
	if code == "" {
		d.warn(out, api.WarnValidation,
			fmt.Sprintf("section[%d] under %s", w.seq, orDocument(w.parentKey)),
			"section has no code, skipping subtree")
		return "", false
	}
	key := sectionNaturalKey(d.owner.OwnerID, code)

	for len(out.Sections) <= w.depth {
		out.Sections = append(out.Sections, nil)
	}
	out.Sections[w.depth] = append(out.Sections[w.depth], ContentNode{
		Family:     api.FamilySection,
		Kind:       w.node.Attr("kind"),
		Seq:        w.seq,
		Depth:      w.depth,
		ParentKey:  w.parentKey,
		NaturalKey: key,
		Code:       code,
		Title:      w.node.Attr("title"),
		Source:     w.node,
	})

	if w.parentKey != "" {
		out.Edges = append(out.Edges, EdgeCandidate{
			Kind:      "section",
			ParentKey: w.parentKey,
			ChildKey:  key,
			Seq:       w.seq,
		})
	}

	d.discoverContent(out, w.node, key)
	return key, true
}

// discoverContent scans one section's direct content. Block families nest
// a fixed number of levels (list/item, table/column/row/cell,
// excerpt/highlight), so plain loops cover them without recursion.
func (d *Discovery) discoverContent(out *DiscoveryOutput, section doctree.Node, sectionKey string) {
	seq := make(map[api.Family]int)
	nextSeq := func(fam api.Family) int {
		seq[fam]++
		return seq[fam]
	}

	for _, child := range section.Children() {
		switch child.Name() {
		case "section":
			// Handled by the section worklist.
		case "text":
			d.discoverText(out, child, sectionKey, nextSeq(api.FamilyText))
		case "list":
			d.discoverList(out, child, sectionKey, nextSeq(api.FamilyList))
		case "table":
			d.discoverTable(out, child, sectionKey, nextSeq(api.FamilyTable))
		case "excerpt":
			d.discoverExcerpt(out, child, sectionKey, nextSeq(api.FamilyExcerpt))
		case "substance":
			d.discoverSubstance(out, child, sectionKey)
		default:
			d.log.Debug("ignoring unsupported element",
				zap.String("tag", child.Name()), zap.String("section", sectionKey))
		}
	}
}

func (d *Discovery) discoverText(out *DiscoveryOutput, n doctree.Node, sectionKey string, seq int) {
	body := n.Text()
	if body == "" {
		d.warn(out, api.WarnValidation, sectionKey+keySep+"text["+strconv.Itoa(seq)+"]",
			"text block has no content, skipping")
		return
	}

	attrs := map[string]string{}
	if strength := n.Attr("strength"); strength != "" {
		ratio, err := extract.ParseRatio(strength)
		if err != nil {
			d.warn(out, api.WarnValidation, sectionKey, fmt.Sprintf("bad strength: %v", err))
		} else {
			attrs["strength_num"] = strconv.FormatFloat(ratio.NumeratorValue, 'f', -1, 64)
			attrs["strength_num_unit"] = ratio.NumeratorUnit
			attrs["strength_den"] = strconv.FormatFloat(ratio.DenominatorValue, 'f', -1, 64)
			attrs["strength_den_unit"] = ratio.DenominatorUnit
		}
	}
	if len(attrs) == 0 {
		attrs = nil
	}

	hash := contentHash(body)
	out.Blocks[api.FamilyText] = append(out.Blocks[api.FamilyText], ContentNode{
		Family:      api.FamilyText,
		Kind:        n.Attr("kind"),
		Seq:         seq,
		SectionKey:  sectionKey,
		NaturalKey:  blockKey(d.owner.OwnerID, api.FamilyText, sectionKey, seq, hash),
		Body:        body,
		ContentHash: hash,
		Attrs:       attrs,
		Source:      n,
	})
}

func (d *Discovery) discoverList(out *DiscoveryOutput, n doctree.Node, sectionKey string, seq int) {
	listKey := blockKey(d.owner.OwnerID, api.FamilyList, sectionKey, seq, "")
	out.Blocks[api.FamilyList] = append(out.Blocks[api.FamilyList], ContentNode{
		Family:     api.FamilyList,
		Kind:       n.Attr("kind"),
		Seq:        seq,
		SectionKey: sectionKey,
		NaturalKey: listKey,
		Source:     n,
	})

	itemSeq := 0
	for _, item := range doctree.ChildrenNamed(n, "item") {
		itemSeq++
		body := item.Text()
		if body == "" {
			d.warn(out, api.WarnValidation, listKey+keySep+"item["+strconv.Itoa(itemSeq)+"]",
				"list item has no content, skipping")
			continue
		}
		hash := contentHash(body)
		out.Blocks[api.FamilyListItem] = append(out.Blocks[api.FamilyListItem], ContentNode{
			Family:      api.FamilyListItem,
			Seq:         itemSeq,
			Depth:       1,
			ParentKey:   listKey,
			SectionKey:  sectionKey,
			NaturalKey:  blockKey(d.owner.OwnerID, api.FamilyListItem, listKey, itemSeq, hash),
			Body:        body,
			ContentHash: hash,
			Source:      item,
		})
	}
}

func (d *Discovery) discoverTable(out *DiscoveryOutput, n doctree.Node, sectionKey string, seq int) {
	tableKey := blockKey(d.owner.OwnerID, api.FamilyTable, sectionKey, seq, "")
	out.Blocks[api.FamilyTable] = append(out.Blocks[api.FamilyTable], ContentNode{
		Family:     api.FamilyTable,
		Seq:        seq,
		SectionKey: sectionKey,
		NaturalKey: tableKey,
		Title:      n.Attr("title"),
		Source:     n,
	})

	colSeq := 0
	for _, col := range doctree.ChildrenNamed(n, "column") {
		colSeq++
		label := col.Text()
		if label == "" {
			label = col.Attr("label")
		}
		hash := contentHash(label)
		out.Blocks[api.FamilyTableColumn] = append(out.Blocks[api.FamilyTableColumn], ContentNode{
			Family:      api.FamilyTableColumn,
			Seq:         colSeq,
			Depth:       1,
			ParentKey:   tableKey,
			SectionKey:  sectionKey,
			NaturalKey:  blockKey(d.owner.OwnerID, api.FamilyTableColumn, tableKey, colSeq, hash),
			Body:        label,
			ContentHash: hash,
			Source:      col,
		})
	}

	rowSeq := 0
	for _, row := range doctree.ChildrenNamed(n, "row") {
		rowSeq++
		rowKey := blockKey(d.owner.OwnerID, api.FamilyTableRow, tableKey, rowSeq, "")
		out.Blocks[api.FamilyTableRow] = append(out.Blocks[api.FamilyTableRow], ContentNode{
			Family:     api.FamilyTableRow,
			Seq:        rowSeq,
			Depth:      1,
			ParentKey:  tableKey,
			SectionKey: sectionKey,
			NaturalKey: rowKey,
			Source:     row,
		})

		cellSeq := 0
		for _, cell := range doctree.ChildrenNamed(row, "cell") {
			cellSeq++
			body := cell.Text()
			hash := contentHash(body)
			out.Blocks[api.FamilyTableCell] = append(out.Blocks[api.FamilyTableCell], ContentNode{
				Family:      api.FamilyTableCell,
				Seq:         cellSeq,
				Depth:       2,
				ParentKey:   rowKey,
				SectionKey:  sectionKey,
				NaturalKey:  blockKey(d.owner.OwnerID, api.FamilyTableCell, rowKey, cellSeq, hash),
				Body:        body,
				ContentHash: hash,
				Source:      cell,
			})
		}
	}
}

func (d *Discovery) discoverExcerpt(out *DiscoveryOutput, n doctree.Node, sectionKey string, seq int) {
	excerptKey := blockKey(d.owner.OwnerID, api.FamilyExcerpt, sectionKey, seq, "")
	out.Blocks[api.FamilyExcerpt] = append(out.Blocks[api.FamilyExcerpt], ContentNode{
		Family:     api.FamilyExcerpt,
		Seq:        seq,
		SectionKey: sectionKey,
		NaturalKey: excerptKey,
		Body:       n.Text(),
		Source:     n,
	})

	hlSeq := 0
	for _, hl := range doctree.ChildrenNamed(n, "highlight") {
		hlSeq++
		body := hl.Text()
		if body == "" {
			d.warn(out, api.WarnValidation, excerptKey+keySep+"highlight["+strconv.Itoa(hlSeq)+"]",
				"highlight has no content, skipping")
			continue
		}
		hash := contentHash(body)
		out.Blocks[api.FamilyHighlight] = append(out.Blocks[api.FamilyHighlight], ContentNode{
			Family:      api.FamilyHighlight,
			Seq:         hlSeq,
			Depth:       1,
			ParentKey:   excerptKey,
			SectionKey:  sectionKey,
			NaturalKey:  blockKey(d.owner.OwnerID, api.FamilyHighlight, excerptKey, hlSeq, hash),
			Body:        body,
			ContentHash: hash,
			Source:      hl,
		})
	}
}

func (d *Discovery) discoverSubstance(out *DiscoveryOutput, n doctree.Node, sectionKey string) {
	key := extract.SubstanceCode(n.Attr("code"), n.Attr("name"))
	if key == "" {
		d.warn(out, api.WarnValidation, sectionKey, "substance has neither code nor name, skipping")
		return
	}
	out.Refs = append(out.Refs, RefMention{
		Kind:    "substance",
		Key:     key,
		Label:   n.Attr("name"),
		NodeKey: sectionKey,
	})
}

// discoverLots records document-level lot rows and the lot hierarchy: a
// lot number with a split suffix hangs off its root lot, which is
// synthesized when the document does not list it explicitly.
func (d *Discovery) discoverLots(out *DiscoveryOutput, root doctree.Node) {
	seen := make(map[string]bool)
	rootChildren := make(map[string]int)

	for _, lot := range doctree.ChildrenNamed(root, "lot") {
		number := lot.Attr("number")
		if number == "" {
			d.warn(out, api.WarnValidation, out.Document.NaturalKey, "lot has no number, skipping")
			continue
		}

		key := lotKey(d.owner.OwnerID, number)
		if !seen[key] {
			seen[key] = true
			out.Blocks[api.FamilyLot] = append(out.Blocks[api.FamilyLot], ContentNode{
				Family:     api.FamilyLot,
				Seq:        len(seen),
				NaturalKey: key,
				Code:       number,
				Kind:       "lot",
				Source:     lot,
			})
		}

		rootNumber := extract.LotRoot(number)
		if rootNumber == number {
			continue
		}
		rootKey := lotKey(d.owner.OwnerID, rootNumber)
		if !seen[rootKey] {
			seen[rootKey] = true
			out.Blocks[api.FamilyLot] = append(out.Blocks[api.FamilyLot], ContentNode{
				Family:     api.FamilyLot,
				Seq:        len(seen),
				NaturalKey: rootKey,
				Code:       rootNumber,
				Kind:       "lot_root",
				Source:     lot,
			})
		}
		rootChildren[rootKey]++
		out.Edges = append(out.Edges, EdgeCandidate{
			Kind:      "lot",
			ParentKey: rootKey,
			ChildKey:  key,
			Seq:       rootChildren[rootKey],
		})
	}
}

func orDocument(parentKey string) string {
	if parentKey == "" {
		return "document"
	}
	return parentKey
}
