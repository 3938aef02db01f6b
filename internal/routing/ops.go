package routing

import (
	"fmt"
	"slices"
	"strings"

	"relaybot/internal/relayerr"
)

var (
	ErrGroupExists   = fmt.Errorf("group already exists: %w", relayerr.ErrValidation)
	ErrGroupNotFound = fmt.Errorf("group not found: %w", relayerr.ErrValidation)
)

// The mutators below are meant to run inside Store.Update.

func (s *State) AddGroup(name, target string) error {
	if _, ok := s.Groups[name]; ok {
		return ErrGroupExists
	}
	if s.Groups == nil {
		s.Groups = map[string]Group{}
	}
	s.Groups[name] = Group{Senders: []string{}, Target: target}
	return nil
}

func (s *State) DeleteGroup(name string) error {
	if _, ok := s.Groups[name]; !ok {
		return ErrGroupNotFound
	}
	delete(s.Groups, name)
	return nil
}

// AddSender appends the lowercased matcher unless already present.
func (s *State) AddSender(name, sender string) error {
	g, ok := s.Groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	sender = strings.ToLower(sender)
	if !slices.Contains(g.Senders, sender) {
		g.Senders = append(g.Senders, sender)
	}
	s.Groups[name] = g
	return nil
}

// RemoveSender drops the lowercased matcher. Removing an absent matcher is fine.
func (s *State) RemoveSender(name, sender string) error {
	g, ok := s.Groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	sender = strings.ToLower(sender)
	g.Senders = slices.DeleteFunc(g.Senders, func(v string) bool { return v == sender })
	s.Groups[name] = g
	return nil
}

func (s *State) SetTarget(name, target string) error {
	g, ok := s.Groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	g.Target = target
	s.Groups[name] = g
	return nil
}

func (s *State) SetDefault(target string) {
	s.DefaultTarget = target
}
