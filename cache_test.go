package twwplus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recent(body string) ResponseSignal {
	return listing("api/message/recent", body)
}

func TestConversationCacheAssignment(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ConversationKey
	}{
		{
			name: "personal message sent by the sender",
			body: `{"data":[{"receiverType":0,"senderId":"u1","receiverId":"u2","state":{"u1":1}}]}`,
			want: "uu2",
		},
		{
			name: "personal message received from the sender",
			body: `{"data":[{"receiverType":0,"senderId":"u1","receiverId":"u2","state":{"u1":0,"u2":1}}]}`,
			want: "uu1",
		},
		{
			name: "personal message without state",
			body: `{"data":[{"receiverType":0,"senderId":"u1","receiverId":"u2"}]}`,
			want: "uu1",
		},
		{
			name: "group message with sender state",
			body: `{"data":[{"receiverType":1,"senderId":"7","receiverId":"g1","state":{"7":1}}]}`,
			want: "gg1",
		},
		{
			name: "group message with receiver state",
			body: `{"data":[{"receiverType":1,"senderId":"g1","receiverId":"7","state":{"7":1}}]}`,
			want: "gg1",
		},
		{
			name: "group message with both states prefers the receiver",
			body: `{"data":[{"receiverType":1,"senderId":"7","receiverId":"g1","state":{"7":1,"g1":1}}]}`,
			want: "gg1",
		},
		{
			name: "group message with neither state",
			body: `{"data":[{"receiverType":1,"senderId":"7","receiverId":"g1","state":{}}]}`,
			want: "gg1",
		},
		{
			name: "numeric ids",
			body: `{"data":[{"receiverType":0,"senderId":1,"receiverId":2,"state":{"1":1}}]}`,
			want: "u2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConversationCache(zerolog.Nop())
			c.HandleResponse(recent(tt.body))
			require.Equal(t, 1, c.Len())
			_, ok := c.Get(tt.want)
			assert.True(t, ok, "expected summary under %q", tt.want)
		})
	}
}

func TestConversationCacheDrops(t *testing.T) {
	c := NewConversationCache(zerolog.Nop())
	c.HandleResponse(recent(`{"data":[
		{"receiverType":2,"senderId":"1","receiverId":"2"},
		{"senderId":"1","receiverId":"2"},
		{"receiverType":0,"receiverId":"2"},
		"garbage",
		{"receiverType":0,"senderId":"3","receiverId":"4","state":{"3":1},"meta":{"content":"kept"}}
	]}`))
	require.Equal(t, 1, c.Len())
	s, ok := c.Get("u4")
	require.True(t, ok)
	text, ok := s.Preview()
	assert.True(t, ok)
	assert.Equal(t, "kept", text)

	c.HandleResponse(recent(`not json`))
	c.HandleResponse(listing("api/user", `{"data":[{"receiverType":0,"senderId":"5","receiverId":"6"}]}`))
	assert.Equal(t, 1, c.Len())
}

func TestConversationCacheOverwrites(t *testing.T) {
	c := NewConversationCache(zerolog.Nop())
	c.HandleResponse(recent(`{"data":[{"receiverType":0,"senderId":"1","receiverId":"2","state":{"1":1},"meta":{"content":"old"}}]}`))
	c.HandleResponse(recent(`{"data":[{"receiverType":0,"senderId":"2","receiverId":"1","state":{"1":1},"meta":{"content":"new"}}]}`))

	s, ok := c.Get("u2")
	require.True(t, ok)
	assert.Equal(t, "2", s.SenderID)
	text, _ := s.Preview()
	assert.Equal(t, "new", text)
}

func TestMessageSummaryPreview(t *testing.T) {
	empty := ""
	content := "hi"
	tests := []struct {
		name   string
		meta   string
		want   string
		wantOK bool
	}{
		{"content", `{"content":"hi"}`, "hi", true},
		{"empty content wins over files", `{"content":"","file":[{}]}`, "", true},
		{"files only", `{"file":[{"name":"a.png"},{"name":"b.pdf"}]}`, "[sent 2 file(s)]", true},
		{"nothing", `{}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConversationCache(zerolog.Nop())
			c.HandleResponse(recent(`{"data":[{"receiverType":0,"senderId":"1","receiverId":"2","meta":` + tt.meta + `}]}`))
			s, ok := c.Get("u1")
			require.True(t, ok)
			got, gotOK := s.Preview()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, gotOK)
		})
	}

	s := MessageSummary{Meta: MessageMeta{Content: &content}}
	got, _ := s.Preview()
	assert.Equal(t, "hi", got)
	s.Meta.Content = &empty
	got, ok := s.Preview()
	assert.True(t, ok)
	assert.Empty(t, got)
}
