package ze

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
)

// AssetRecord is one build output file, identified by the hash of its content.
type AssetRecord struct {
	Path    string
	Hash    string
	Extname string
	Size    int64
	Buffer  []byte
	// Aliases lists further paths that carry byte-identical content.
	Aliases []string
}

// NewAssetRecord hashes data and returns its record.
func NewAssetRecord(assetPath string, data []byte) *AssetRecord {
	return &AssetRecord{
		Path:    assetPath,
		Hash:    HashContent(data),
		Extname: path.Ext(toSlash(assetPath)),
		Size:    int64(len(data)),
		Buffer:  data,
	}
}

// HashContent returns the SHA-256 of data as lowercase hex. This is the
// content address the edge hash set is keyed by.
func HashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// AssetMap holds a build's assets keyed by content hash.
type AssetMap map[string]*AssetRecord

// Add records data under assetPath. Content already present under another
// path is not stored twice; the path becomes an alias of the existing record.
func (m AssetMap) Add(assetPath string, data []byte) *AssetRecord {
	rec := NewAssetRecord(assetPath, data)
	if existing, ok := m[rec.Hash]; ok {
		if existing.Path != assetPath && !containsString(existing.Aliases, assetPath) {
			existing.Aliases = append(existing.Aliases, assetPath)
		}
		return existing
	}
	m[rec.Hash] = rec
	return rec
}

// Put stores a prepared record, replacing any record with the same hash.
func (m AssetMap) Put(rec *AssetRecord) {
	m[rec.Hash] = rec
}

// FindByPath returns the record stored under p, either as its primary
// path or as an alias.
func (m AssetMap) FindByPath(p string) *AssetRecord {
	p = toSlash(p)
	for _, rec := range m {
		if toSlash(rec.Path) == p {
			return rec
		}
		for _, alias := range rec.Aliases {
			if toSlash(alias) == p {
				return rec
			}
		}
	}
	return nil
}

// Clone returns a shallow copy of m; records are shared.
func (m AssetMap) Clone() AssetMap {
	out := make(AssetMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HashSet is the set of content hashes known to exist on the edge for one
// application. It is only ever used to skip uploads.
type HashSet map[string]struct{}

// NewHashSet returns a set holding hashes.
func NewHashSet(hashes ...string) HashSet {
	s := make(HashSet, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

// Contains reports whether hash is in the set. A nil set contains nothing.
func (s HashSet) Contains(hash string) bool {
	_, ok := s[hash]
	return ok
}

// Add inserts hashes into the set.
func (s HashSet) Add(hashes ...string) {
	for _, h := range hashes {
		s[h] = struct{}{}
	}
}

// Sorted returns the hashes in lexical order.
func (s HashSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// MissingAssets returns the assets whose hash is not in known, ordered
// by path. An empty or nil known set yields every asset.
func MissingAssets(assets AssetMap, known HashSet) []*AssetRecord {
	var missing []*AssetRecord
	for hash, rec := range assets {
		if known.Contains(hash) {
			continue
		}
		missing = append(missing, rec)
	}
	sort.Slice(missing, func(i, j int) bool {
		return missing[i].Path < missing[j].Path
	})
	return missing
}

// toSlash converts Windows separators to forward slashes regardless of
// the host OS; filepath.ToSlash is a no-op on Unix.
func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
