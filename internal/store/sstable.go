package store

import (
	"context"
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/veldt-db/veldt/internal/block"
	veldterrors "github.com/veldt-db/veldt/internal/errors"
	"github.com/veldt-db/veldt/internal/objstore"
)

// CacheOptions sizes the sstable-store caches, in entries.
type CacheOptions struct {
	MetaEntries  int `yaml:"meta_entries"`
	BlockEntries int `yaml:"block_entries"`
	GraphEntries int `yaml:"graph_entries"`
}

// DefaultCacheOptions returns the default cache sizing.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MetaEntries:  256,
		BlockEntries: 4096,
		GraphEntries: 8,
	}
}

type blockCacheKey struct {
	objectID uint64
	blockIdx int
}

// SstableStore is the per-index cached read surface over the blob store.
// An object inserted into the cache right after upload is readable without a
// blob GET, which is what keeps freshly flushed vectors reachable by the
// graph build.
type SstableStore struct {
	objects objstore.Store
	dim     int

	metaCache  *lru.Cache[uint64, *FileMeta]
	blockCache *lru.Cache[blockCacheKey, *block.Block]
	graphCache *lru.Cache[uint64, []byte]
}

// NewSstableStore creates a store for an index of the given dimension.
func NewSstableStore(objects objstore.Store, dim int, opts CacheOptions) (*SstableStore, error) {
	metaCache, err := lru.New[uint64, *FileMeta](opts.MetaEntries)
	if err != nil {
		return nil, veldterrors.Wrap(veldterrors.ErrCodeConfigInvalid, err)
	}
	blockCache, err := lru.New[blockCacheKey, *block.Block](opts.BlockEntries)
	if err != nil {
		return nil, veldterrors.Wrap(veldterrors.ErrCodeConfigInvalid, err)
	}
	graphCache, err := lru.New[uint64, []byte](opts.GraphEntries)
	if err != nil {
		return nil, veldterrors.Wrap(veldterrors.ErrCodeConfigInvalid, err)
	}
	return &SstableStore{
		objects:    objects,
		dim:        dim,
		metaCache:  metaCache,
		blockCache: blockCache,
		graphCache: graphCache,
	}, nil
}

// Dimension returns the vector dimension this store decodes blocks with.
func (s *SstableStore) Dimension() int {
	return s.dim
}

// Objects exposes the underlying blob store.
func (s *SstableStore) Objects() objstore.Store {
	return s.objects
}

// InsertVectorCache makes a just-uploaded vector file readable from cache.
func (s *SstableStore) InsertVectorCache(objectID uint64, meta *FileMeta, blocks []*block.Block) {
	s.metaCache.Add(objectID, meta)
	for i, blk := range blocks {
		s.blockCache.Add(blockCacheKey{objectID: objectID, blockIdx: i}, blk)
	}
}

// InsertGraphCache makes a just-uploaded graph blob readable from cache.
func (s *SstableStore) InsertGraphCache(objectID uint64, data []byte) {
	s.graphCache.Add(objectID, data)
}

// GetVectorFileMeta returns the decoded footer of a vector file.
func (s *SstableStore) GetVectorFileMeta(ctx context.Context, info VectorFileInfo) (*FileMeta, error) {
	if meta, ok := s.metaCache.Get(info.ObjectID); ok {
		return meta, nil
	}

	if info.FileSize < 4 {
		return nil, veldterrors.Corruption(veldterrors.ErrCodeFooterCorrupt,
			"vector file %d of %d bytes has no footer", info.ObjectID, info.FileSize)
	}
	path := objstore.VectorFilePath(info.ObjectID)

	sizeBuf, err := s.objects.Get(ctx, path, int64(info.FileSize)-4, 4)
	if err != nil {
		return nil, err
	}
	footerSize := binary.LittleEndian.Uint32(sizeBuf)
	if uint64(footerSize)+4 > info.FileSize {
		return nil, veldterrors.Corruption(veldterrors.ErrCodeFooterCorrupt,
			"vector file %d footer size %d exceeds file size %d", info.ObjectID, footerSize, info.FileSize)
	}

	metasBuf, err := s.objects.Get(ctx, path, int64(info.FileSize)-4-int64(footerSize), int64(footerSize))
	if err != nil {
		return nil, err
	}
	meta, err := DecodeFileMeta(metasBuf)
	if err != nil {
		return nil, err
	}

	if n := len(meta.BlockMetas); n > 0 {
		if meta.BlockMetas[0].StartVectorID != info.StartVectorID || meta.VectorCount() != info.VectorCount {
			return nil, veldterrors.Corruption(veldterrors.ErrCodeFooterCorrupt,
				"vector file %d footer range [%d, +%d) disagrees with file info [%d, +%d)",
				info.ObjectID, meta.BlockMetas[0].StartVectorID, meta.VectorCount(),
				info.StartVectorID, info.VectorCount)
		}
	}

	s.metaCache.Add(info.ObjectID, meta)
	return meta, nil
}

// GetVectorBlock returns one decoded block of a vector file.
func (s *SstableStore) GetVectorBlock(ctx context.Context, info VectorFileInfo, blockIdx int, meta block.Meta) (*block.Block, error) {
	key := blockCacheKey{objectID: info.ObjectID, blockIdx: blockIdx}
	if blk, ok := s.blockCache.Get(key); ok {
		return blk, nil
	}

	data, err := s.objects.Get(ctx, objstore.VectorFilePath(info.ObjectID), int64(meta.Offset), int64(meta.Size))
	if err != nil {
		return nil, err
	}
	blk, err := block.Decode(data, s.dim, int(meta.VectorCount))
	if err != nil {
		return nil, err
	}

	s.blockCache.Add(key, blk)
	return blk, nil
}

// GetHnswGraph returns the raw encoded graph blob.
func (s *SstableStore) GetHnswGraph(ctx context.Context, info GraphFileInfo) ([]byte, error) {
	if data, ok := s.graphCache.Get(info.ObjectID); ok {
		return data, nil
	}

	data, err := s.objects.Get(ctx, objstore.GraphFilePath(info.ObjectID), 0, int64(info.FileSize))
	if err != nil {
		return nil, err
	}

	s.graphCache.Add(info.ObjectID, data)
	return data, nil
}
