package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5/util"
)

const journalVersion = 1

// journal is the on-disk form of a FileStore index. Checksum is the xxhash
// of Entries, which catches a torn or hand-edited file.
type journal struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Entries  json.RawMessage `json:"entries"`
}

type journalRecord[K comparable] struct {
	Key        K          `json:"key"`
	Filename   string     `json:"filename"`
	Attributes Attributes `json:"attributes"`
}

func checksum(buf []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(buf))
}

// loadIndex replaces the in-memory index with the persisted one. An
// unreadable index is logged and treated as empty.
func (s *FileStore[K, V]) loadIndex() {
	buf, err := util.ReadFile(s.fs, s.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to read index %s: %s", s.indexPath, err)
		}
		return
	}
	var j journal
	if err := json.Unmarshal(buf, &j); err != nil {
		s.logger.Error("failed to parse index %s: %s", s.indexPath, err)
		return
	}
	if j.Version != journalVersion {
		s.logger.Error("unsupported index version %d in %s", j.Version, s.indexPath)
		return
	}
	if sum := checksum(j.Entries); sum != j.Checksum {
		s.logger.Error("index %s checksum mismatch (have %s, want %s)", s.indexPath, sum, j.Checksum)
		return
	}
	var records []journalRecord[K]
	if err := json.Unmarshal(j.Entries, &records); err != nil {
		s.logger.Error("failed to decode index entries in %s: %s", s.indexPath, err)
		return
	}
	for _, r := range records {
		s.index[r.Key] = indexEntry{Filename: r.Filename, Attributes: r.Attributes}
	}
}

// reconcile makes the index and the data directory agree. Only called
// before the store is shared.
func (s *FileStore[K, V]) reconcile() error {
	infos, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return err
	}
	onDisk := make(map[string]bool, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			onDisk[info.Name()] = true
		}
	}
	referenced := make(map[string]bool, len(s.index))
	for key, e := range s.index {
		if !onDisk[e.Filename] {
			s.logger.Debug("dropping %v, file %s is missing", key, e.Filename)
			delete(s.index, key)
			continue
		}
		referenced[e.Filename] = true
	}
	for name := range onDisk {
		if referenced[name] {
			continue
		}
		s.logger.Debug("deleting orphaned file %s", name)
		s.removeFile(name)
	}
	return nil
}

// scheduleSave marks the index dirty and arms a debounced save. Callers
// hold the write lock.
func (s *FileStore[K, V]) scheduleSave() {
	s.dirty = true
	s.saveSeq++
	seq := s.saveSeq
	time.AfterFunc(s.cfg.saveDelay, func() { s.saveIfDue(seq) })
}

// saveIfDue runs when a debounce timer fires. It saves only if no later
// mutation has re-armed the timer, or if the persisted index has become
// older than the max save lag.
func (s *FileStore[K, V]) saveIfDue(seq uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed || !s.dirty {
		return
	}
	if seq == s.saveSeq || time.Since(s.lastSave) >= s.cfg.maxSaveLag {
		s.save()
	}
}

// save writes the index through a temporary file and a rename. Callers
// hold the write lock.
func (s *FileStore[K, V]) save() {
	records := make([]journalRecord[K], 0, len(s.index))
	for key, e := range s.index {
		records = append(records, journalRecord[K]{Key: key, Filename: e.Filename, Attributes: e.Attributes})
	}
	entries, err := json.Marshal(records)
	if err != nil {
		s.logger.Error("failed to encode index: %s", err)
		return
	}
	buf, err := json.Marshal(journal{Version: journalVersion, Checksum: checksum(entries), Entries: entries})
	if err != nil {
		s.logger.Error("failed to encode index: %s", err)
		return
	}
	tmp := s.indexPath + ".tmp"
	if err := util.WriteFile(s.fs, tmp, buf, 0o644); err != nil {
		s.logger.Error("failed to write index %s: %s", tmp, err)
		return
	}
	if err := s.fs.Rename(tmp, s.indexPath); err != nil {
		// Not every filesystem replaces an existing target on rename.
		_ = s.fs.Remove(s.indexPath)
		if err := s.fs.Rename(tmp, s.indexPath); err != nil {
			s.logger.Error("failed to replace index %s: %s", s.indexPath, err)
			return
		}
	}
	s.dirty = false
	s.lastSave = time.Now()
	s.logger.Trace("saved index with %d entries", len(records))
}
