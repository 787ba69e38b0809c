package twwplus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func listing(path, body string) ResponseSignal {
	return ResponseSignal{Method: "GET", URL: "https://chat.example.com/" + path, ResponseText: body}
}

func TestDirectoryGroups(t *testing.T) {
	d := NewDirectory(zerolog.Nop())
	d.HandleResponse(listing("api/group", `{"data":[{"name":"Ops","groupId":"g1"}]}`))

	if id, ok := d.IDByName("Ops"); !ok || id != "g1" {
		t.Fatalf("IDByName(Ops) = %q, %v", id, ok)
	}
	if name, _ := d.NameByID("g1"); name != "Ops" {
		t.Fatalf("NameByID(g1) = %q", name)
	}
	if kind, _ := d.KindOf("g1"); kind != KindGroup {
		t.Fatalf("KindOf(g1) = %q, want group", kind)
	}
	if key, ok := d.Key("g1"); !ok || key != "gg1" {
		t.Fatalf("Key(g1) = %q, %v", key, ok)
	}
}

func TestDirectoryUsers(t *testing.T) {
	t.Run("numeric ids and soft-deleted users", func(t *testing.T) {
		d := NewDirectory(zerolog.Nop())
		d.HandleResponse(listing("api/user", `{"data":[
			{"displayName":"Ann","tbId":482},
			{"displayName":"Bob","tbId":"7","deleted":true},
			{"displayName":"Cy","tbId":"9","deleted":false}
		]}`))

		if key, ok := d.Key("482"); !ok || key != "u482" {
			t.Fatalf("Key(482) = %q, %v", key, ok)
		}
		if _, ok := d.IDByName("Bob"); ok {
			t.Fatal("soft-deleted user was inserted")
		}
		if _, ok := d.KindOf("7"); ok {
			t.Fatal("soft-deleted user has a kind")
		}
		if id, _ := d.IDByName("Cy"); id != "9" {
			t.Fatalf("IDByName(Cy) = %q", id)
		}
	})

	t.Run("soft-deleted user never updates an earlier entry", func(t *testing.T) {
		d := NewDirectory(zerolog.Nop())
		d.HandleResponse(listing("api/user", `{"data":[{"displayName":"Bob","tbId":"7"}]}`))
		d.HandleResponse(listing("api/user", `{"data":[{"displayName":"Robert","tbId":"7","deleted":true}]}`))
		d.HandleResponse(listing("api/user", `{"data":[{"displayName":"Robert","tbId":"7","deleted":true}]}`))

		if name, _ := d.NameByID("7"); name != "Bob" {
			t.Fatalf("NameByID(7) = %q, want Bob", name)
		}
		if _, ok := d.IDByName("Robert"); ok {
			t.Fatal("soft-deleted name was indexed")
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		d := NewDirectory(zerolog.Nop())
		d.HandleResponse(listing("api/user", `{"data":[{"displayName":"Ann","tbId":"1"}]}`))
		d.HandleResponse(listing("api/user", `{"data":[{"displayName":"Ann","tbId":"2"}]}`))
		if id, _ := d.IDByName("Ann"); id != "2" {
			t.Fatalf("IDByName(Ann) = %q, want 2", id)
		}
	})

	t.Run("query strings do not hide the endpoint", func(t *testing.T) {
		d := NewDirectory(zerolog.Nop())
		d.HandleResponse(listing("api/user?page=2", `{"data":[{"displayName":"Ann","tbId":"1"}]}`))
		if _, ok := d.IDByName("Ann"); !ok {
			t.Fatal("listing with query string was ignored")
		}
	})
}

func TestDirectoryIdempotent(t *testing.T) {
	payloads := []ResponseSignal{
		listing("api/group", `{"data":[{"name":"Ops","groupId":"g1"},{"name":"Dev","groupId":"g2"}]}`),
		listing("api/user", `{"data":[{"displayName":"Ann","tbId":"482"},{"displayName":"Bob","tbId":"7","deleted":true}]}`),
	}

	once := NewDirectory(zerolog.Nop())
	twice := NewDirectory(zerolog.Nop())
	for _, p := range payloads {
		once.HandleResponse(p)
		twice.HandleResponse(p)
		twice.HandleResponse(p)
	}

	if diff := cmp.Diff(once.Identities(), twice.Identities()); diff != "" {
		t.Fatalf("identities differ (-once +twice):\n%s", diff)
	}
	if diff := cmp.Diff(once.idByName, twice.idByName); diff != "" {
		t.Fatalf("name index differs (-once +twice):\n%s", diff)
	}
	want := []Identity{
		{ID: "482", DisplayName: "Ann", Kind: KindUser},
		{ID: "g1", DisplayName: "Ops", Kind: KindGroup},
		{ID: "g2", DisplayName: "Dev", Kind: KindGroup},
	}
	if diff := cmp.Diff(want, once.Identities()); diff != "" {
		t.Fatalf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectoryMe(t *testing.T) {
	d := NewDirectory(zerolog.Nop())
	d.HandleResponse(listing("api/user/me", `{"data":{"user":{"tbId":100,"displayName":"Me"}}}`))
	if d.Me() != "100" {
		t.Fatalf("Me() = %q, want 100", d.Me())
	}
	if _, ok := d.IDByName("Me"); ok {
		t.Fatal("current user listing must not populate the name index")
	}
}

func TestDirectoryDropsMalformed(t *testing.T) {
	bodies := map[string]ResponseSignal{
		"not json":          listing("api/group", `<html>502</html>`),
		"data not array":    listing("api/group", `{"data":"nope"}`),
		"missing data":      listing("api/user", `{}`),
		"empty body":        listing("api/user", ``),
		"me without user":   listing("api/user/me", `{"data":{}}`),
		"record not object": listing("api/user", `{"data":["Ann",12]}`),
		"other endpoint":    listing("api/groups/members", `{"data":[{"name":"Ops","groupId":"g1"}]}`),
	}
	for name, sig := range bodies {
		t.Run(name, func(t *testing.T) {
			d := NewDirectory(zerolog.Nop())
			d.HandleResponse(sig)
			if got := d.Identities(); len(got) != 0 {
				t.Fatalf("expected no identities, got %+v", got)
			}
			if d.Me() != "" {
				t.Fatalf("expected no current user, got %q", d.Me())
			}
		})
	}

	t.Run("unknown kind forms no key", func(t *testing.T) {
		d := NewDirectory(zerolog.Nop())
		if _, ok := d.Key("482"); ok {
			t.Fatal("key formed for unknown identity")
		}
	})
}
