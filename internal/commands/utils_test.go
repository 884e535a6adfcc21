package commands

import (
	"reflect"
	"testing"
)

func TestParseMentionTokens(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantIDs   []int64
		wantNames []string
	}{
		{"mentions", "<@123> <@!456>", []int64{123, 456}, nil},
		{"raw ids", "123 456", []int64{123, 456}, nil},
		{"names", "alice bob", nil, []string{"alice", "bob"}},
		{"mixed", "<@123>, alice", []int64{123}, []string{"alice"}},
		{"comma separated", "alice,bob", nil, []string{"alice", "bob"}},
		{"empty", "", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, names := parseMentionTokens(tt.text)
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
			if !reflect.DeepEqual(names, tt.wantNames) {
				t.Errorf("names = %v, want %v", names, tt.wantNames)
			}
		})
	}
}

func TestParseChatID(t *testing.T) {
	if got := ParseChatID("123456789012345678"); got != 123456789012345678 {
		t.Errorf("ParseChatID = %d", got)
	}
	if got := ParseChatID("not-a-snowflake"); got != 0 {
		t.Errorf("ParseChatID on garbage = %d, want 0", got)
	}
}
