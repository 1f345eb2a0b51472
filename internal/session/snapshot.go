package session

import (
	"docworkspace/internal/models"
	"docworkspace/internal/util"
)

// snapshot is never modified after it is published.
type snapshot struct {
	order         []string
	byID          map[string]models.SessionDocument
	byName        map[string][]string
	bySource      map[string][]string
	byFingerprint map[string]string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:          map[string]models.SessionDocument{},
		byName:        map[string][]string{},
		bySource:      map[string][]string{},
		byFingerprint: map[string]string{},
	}
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		order:         append([]string(nil), s.order...),
		byID:          make(map[string]models.SessionDocument, len(s.byID)),
		byName:        make(map[string][]string, len(s.byName)),
		bySource:      make(map[string][]string, len(s.bySource)),
		byFingerprint: make(map[string]string, len(s.byFingerprint)),
	}
	for k, v := range s.byID {
		next.byID[k] = v
	}
	for k, v := range s.byName {
		next.byName[k] = append([]string(nil), v...)
	}
	for k, v := range s.bySource {
		next.bySource[k] = append([]string(nil), v...)
	}
	for k, v := range s.byFingerprint {
		next.byFingerprint[k] = v
	}
	return next
}

// put keeps the position of an existing id and appends new ones.
func (s *snapshot) put(doc models.SessionDocument) {
	if _, ok := s.byID[doc.DocID]; !ok {
		s.order = append(s.order, doc.DocID)
	}
	s.byID[doc.DocID] = doc
	s.reindex()
}

func (s *snapshot) remove(docID string) {
	if _, ok := s.byID[docID]; !ok {
		return
	}
	delete(s.byID, docID)
	for i, id := range s.order {
		if id == docID {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.reindex()
}

// reindex rebuilds the derived indices so every name list follows insertion order.
func (s *snapshot) reindex() {
	s.byName = make(map[string][]string, len(s.order))
	s.bySource = make(map[string][]string, len(s.order))
	s.byFingerprint = make(map[string]string, len(s.order))
	for _, id := range s.order {
		doc := s.byID[id]
		name := util.FoldName(doc.DisplayName)
		s.byName[name] = append(s.byName[name], id)
		if doc.Source == nil {
			continue
		}
		s.bySource[doc.Source.Name] = append(s.bySource[doc.Source.Name], id)
		if fp := doc.Source.Fingerprint; fp != "" {
			if _, taken := s.byFingerprint[fp]; !taken {
				s.byFingerprint[fp] = id
			}
		}
	}
}

func (s *snapshot) list() []models.SessionDocument {
	out := make([]models.SessionDocument, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *snapshot) entries() []models.PersistedEntry {
	out := make([]models.PersistedEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Persisted())
	}
	return out
}
