package twwplus

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"
)

// Directory maps display names to identity ids and back, learned from the
// group and user listings the host fetches. Entries are overwritten by newer
// listings and never removed.
//
// A Directory is owned by one Session and is not safe for concurrent use;
// the session feeds it from its scheduler.
type Directory struct {
	idByName map[string]string
	nameByID map[string]string
	kindByID map[string]Kind
	me       string
	logger   zerolog.Logger
}

type groupRecord struct {
	Name    string `json:"name"`
	GroupID flexID `json:"groupId"`
}

type userRecord struct {
	DisplayName string          `json:"displayName"`
	TbID        flexID          `json:"tbId"`
	Deleted     json.RawMessage `json:"deleted"`
}

// NewDirectory returns an empty directory.
func NewDirectory(logger zerolog.Logger) *Directory {
	return &Directory{
		idByName: make(map[string]string),
		nameByID: make(map[string]string),
		kindByID: make(map[string]Kind),
		logger:   logger,
	}
}

// HandleResponse folds a group, user or current-user listing into the
// directory. Other URLs and malformed bodies are ignored.
func (d *Directory) HandleResponse(sig ResponseSignal) {
	if sig.ResponseText == "" {
		return
	}
	switch classifyEndpoint(sig.URL) {
	case endpointGroups:
		d.handleGroups(sig)
	case endpointUsers:
		d.handleUsers(sig)
	case endpointMe:
		d.handleMe(sig)
	}
}

func (d *Directory) handleGroups(sig ResponseSignal) {
	var payload listPayload
	if err := decodeValidated(listPayloadSchema, sig.ResponseText, &payload); err != nil {
		d.logger.Debug().Err(err).Str("url", sig.URL).Msg("dropping group listing")
		return
	}
	for _, raw := range payload.Data {
		var g groupRecord
		if err := json.Unmarshal(raw, &g); err != nil || g.GroupID == "" {
			continue
		}
		d.put(Identity{ID: string(g.GroupID), DisplayName: g.Name, Kind: KindGroup})
	}
}

func (d *Directory) handleUsers(sig ResponseSignal) {
	var payload listPayload
	if err := decodeValidated(listPayloadSchema, sig.ResponseText, &payload); err != nil {
		d.logger.Debug().Err(err).Str("url", sig.URL).Msg("dropping user listing")
		return
	}
	for _, raw := range payload.Data {
		var u userRecord
		if err := json.Unmarshal(raw, &u); err != nil || u.TbID == "" {
			continue
		}
		if isJSONTrue(u.Deleted) {
			continue
		}
		d.put(Identity{ID: string(u.TbID), DisplayName: u.DisplayName, Kind: KindUser})
	}
}

func (d *Directory) handleMe(sig ResponseSignal) {
	var payload mePayload
	if err := decodeValidated(mePayloadSchema, sig.ResponseText, &payload); err != nil {
		d.logger.Debug().Err(err).Str("url", sig.URL).Msg("dropping current user")
		return
	}
	d.me = string(payload.Data.User.TbID)
}

func (d *Directory) put(id Identity) {
	if id.DisplayName != "" {
		d.idByName[id.DisplayName] = id.ID
	}
	d.nameByID[id.ID] = id.DisplayName
	d.kindByID[id.ID] = id.Kind
}

// IDByName returns the id last seen with the given display name.
func (d *Directory) IDByName(name string) (string, bool) {
	id, ok := d.idByName[name]
	return id, ok
}

// NameByID returns the display name last seen for id.
func (d *Directory) NameByID(id string) (string, bool) {
	name, ok := d.nameByID[id]
	return name, ok
}

// KindOf returns the kind recorded for id.
func (d *Directory) KindOf(id string) (Kind, bool) {
	k, ok := d.kindByID[id]
	return k, ok
}

// Key forms the conversation key for id. ok is false while the kind is unknown.
func (d *Directory) Key(id string) (ConversationKey, bool) {
	k, ok := d.kindByID[id]
	if !ok || id == "" {
		return "", false
	}
	return NewConversationKey(k, id), true
}

// Me returns the current session's own identity id, or "" before it is known.
func (d *Directory) Me() string { return d.me }

// Identities returns every known identity ordered by id.
func (d *Directory) Identities() []Identity {
	out := make([]Identity, 0, len(d.nameByID))
	for id, name := range d.nameByID {
		out = append(out, Identity{ID: id, DisplayName: name, Kind: d.kindByID[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
