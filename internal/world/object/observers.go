package object

import "sort"

// ObserverSet - множество имен игроков, которым объект виден.
// nil означает отсутствие ограничения.
type ObserverSet struct {
	names map[string]struct{}
}

// NewObserverSet создает ограничение видимости из списка имен
func NewObserverSet(names ...string) *ObserverSet {
	s := &ObserverSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

// Contains проверяет, виден ли объект игроку
func (s *ObserverSet) Contains(name string) bool {
	if s == nil {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Names возвращает отсортированный список имен; nil для неограниченного множества
func (s *ObserverSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// intersect пересекает два ограничения; nil нейтрален
func intersect(a, b *ObserverSet) *ObserverSet {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := &ObserverSet{names: make(map[string]struct{})}
	for n := range a.names {
		if _, ok := b.names[n]; ok {
			out.names[n] = struct{}{}
		}
	}
	return out
}
