package hnsw

import (
	"google.golang.org/protobuf/encoding/protowire"

	veldterrors "github.com/veldt-db/veldt/internal/errors"
)

// Graph file wire format, standard protobuf encoding:
//
//	message HnswGraph {
//	  optional uint64 entry_point = 1;
//	  repeated HnswGraphNode nodes = 2;
//	}
//	message HnswGraphNode {
//	  uint32 level = 1;
//	  repeated HnswNodeNeighbors neighbors = 2;
//	}
//	message HnswNodeNeighbors {
//	  uint32 level = 1;
//	  repeated uint64 ids = 2; // packed
//	}
//
// The encoder emits fields in field-number order with zero-valued scalars
// omitted and one neighbors entry per level in level order, so re-encoding a
// decoded graph reproduces the input bytes exactly.

const (
	graphFieldEntryPoint = 1
	graphFieldNodes      = 2

	nodeFieldLevel     = 1
	nodeFieldNeighbors = 2

	neighborsFieldLevel = 1
	neighborsFieldIDs   = 2
)

// ToProtobuf serializes the graph.
func (g *GraphBuilder) ToProtobuf() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, graphFieldEntryPoint, protowire.VarintType)
	buf = protowire.AppendVarint(buf, g.entryPoint)
	for _, node := range g.nodes {
		buf = protowire.AppendTag(buf, graphFieldNodes, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeNode(node))
	}
	return buf
}

func encodeNode(node *Node) []byte {
	var buf []byte
	if node.Level != 0 {
		buf = protowire.AppendTag(buf, nodeFieldLevel, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(node.Level))
	}
	for level, ids := range node.Neighbors {
		buf = protowire.AppendTag(buf, nodeFieldNeighbors, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeNeighbors(level, ids))
	}
	return buf
}

func encodeNeighbors(level int, ids []uint64) []byte {
	var buf []byte
	if level != 0 {
		buf = protowire.AppendTag(buf, neighborsFieldLevel, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(level))
	}
	if len(ids) > 0 {
		var packed []byte
		for _, id := range ids {
			packed = protowire.AppendVarint(packed, id)
		}
		buf = protowire.AppendTag(buf, neighborsFieldIDs, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}
	return buf
}

func graphCorrupt(format string, args ...any) error {
	return veldterrors.Corruption(veldterrors.ErrCodeGraphCorrupt, format, args...)
}

// FromProtobuf parses a serialized graph and validates its structural
// invariants: every neighbor id refers to an existing node and no adjacency
// list sits above its node's level.
func FromProtobuf(opts BuilderOptions, data []byte) (*GraphBuilder, error) {
	var entryPoint uint64
	hasEntry := false
	var nodes []*Node

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, graphCorrupt("malformed graph tag")
		}
		data = data[n:]

		switch num {
		case graphFieldEntryPoint:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, graphCorrupt("malformed entry point")
			}
			entryPoint = v
			hasEntry = true
			data = data[n:]
		case graphFieldNodes:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, graphCorrupt("malformed node at index %d", len(nodes))
			}
			node, err := decodeNode(raw)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, graphCorrupt("malformed field %d", num)
			}
			data = data[n:]
		}
	}

	if len(nodes) == 0 {
		return nil, graphCorrupt("graph file has no nodes")
	}
	if !hasEntry {
		return nil, graphCorrupt("graph file has no entry point")
	}
	if entryPoint >= uint64(len(nodes)) {
		return nil, graphCorrupt("entry point %d refers to missing node, have %d nodes", entryPoint, len(nodes))
	}
	for id, node := range nodes {
		for level, ids := range node.Neighbors {
			for _, nb := range ids {
				if nb >= uint64(len(nodes)) {
					return nil, graphCorrupt("node %d level %d refers to missing node %d", id, level, nb)
				}
				if nodes[nb].Level < level {
					return nil, graphCorrupt("node %d level %d edge to node %d of level %d", id, level, nb, nodes[nb].Level)
				}
			}
		}
	}

	return &GraphBuilder{opts: opts, entryPoint: entryPoint, nodes: nodes}, nil
}

func decodeNode(data []byte) (*Node, error) {
	level := 0
	type levelNeighbors struct {
		level int
		ids   []uint64
	}
	var entries []levelNeighbors

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, graphCorrupt("malformed node tag")
		}
		data = data[n:]

		switch num {
		case nodeFieldLevel:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, graphCorrupt("malformed node level")
			}
			level = int(v)
			data = data[n:]
		case nodeFieldNeighbors:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, graphCorrupt("malformed node neighbors")
			}
			nbLevel, ids, err := decodeNeighbors(raw)
			if err != nil {
				return nil, err
			}
			entries = append(entries, levelNeighbors{level: nbLevel, ids: ids})
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, graphCorrupt("malformed node field %d", num)
			}
			data = data[n:]
		}
	}

	node := &Node{Level: level, Neighbors: make([][]uint64, level+1)}
	for i := range node.Neighbors {
		node.Neighbors[i] = []uint64{}
	}
	for _, e := range entries {
		if e.level > level {
			return nil, graphCorrupt("neighbors at level %d exceed node level %d", e.level, level)
		}
		node.Neighbors[e.level] = e.ids
	}
	return node, nil
}

func decodeNeighbors(data []byte) (int, []uint64, error) {
	level := 0
	ids := []uint64{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, nil, graphCorrupt("malformed neighbors tag")
		}
		data = data[n:]

		switch num {
		case neighborsFieldLevel:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, nil, graphCorrupt("malformed neighbors level")
			}
			level = int(v)
			data = data[n:]
		case neighborsFieldIDs:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, nil, graphCorrupt("malformed neighbor ids")
			}
			for len(raw) > 0 {
				v, vn := protowire.ConsumeVarint(raw)
				if vn < 0 {
					return 0, nil, graphCorrupt("malformed neighbor id varint")
				}
				ids = append(ids, v)
				raw = raw[vn:]
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, nil, graphCorrupt("malformed neighbors field %d", num)
			}
			data = data[n:]
		}
	}
	return level, ids, nil
}
