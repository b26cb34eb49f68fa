package models

import (
	"strings"
	"testing"
)

func validStory() Story {
	return Story{
		Title: "The Brave Little Turtle",
		Pages: []StoryPage{
			{Text: "Once upon a time...", ImagePrompt: "A turtle at the beach"},
			{Text: "Then the turtle swam.", ImagePrompt: "A turtle in waves"},
			{Text: "And it found home.", ImagePrompt: "A turtle by a rock"},
		},
	}
}

func TestStoryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Story)
		wantErr string
	}{
		{"valid", func(*Story) {}, ""},
		{"missing title", func(s *Story) { s.Title = "" }, "title"},
		{"two pages", func(s *Story) { s.Pages = s.Pages[:2] }, "exactly 3 pages"},
		{"four pages", func(s *Story) { s.Pages = append(s.Pages, s.Pages[0]) }, "exactly 3 pages"},
		{"no pages", func(s *Story) { s.Pages = nil }, "pages"},
		{"blank page text", func(s *Story) { s.Pages[1].Text = "   " }, "text"},
		{"missing image prompt", func(s *Story) { s.Pages[2].ImagePrompt = "" }, "imagePrompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validStory()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWithPageImage_DoesNotMutate(t *testing.T) {
	s := validStory()
	updated := s.WithPageImage(1, "data:image/png;base64,AAAA")

	if s.Pages[1].ImageURL != "" {
		t.Errorf("original story mutated: %q", s.Pages[1].ImageURL)
	}
	if updated.Pages[1].ImageURL != "data:image/png;base64,AAAA" {
		t.Errorf("updated page image = %q", updated.Pages[1].ImageURL)
	}
	if updated.Pages[0].ImageURL != "" || updated.Pages[2].ImageURL != "" {
		t.Error("sibling pages changed")
	}

	same := s.WithPageImage(7, "x")
	for i := range same.Pages {
		if same.Pages[i].ImageURL != "" {
			t.Errorf("out of range index touched page %d", i)
		}
	}
}

func TestParseImageSize(t *testing.T) {
	tests := []struct {
		in      string
		want    ImageSize
		wantErr bool
	}{
		{"", ImageSize1K, false},
		{"1K", ImageSize1K, false},
		{"2k", ImageSize2K, false},
		{" 4K ", ImageSize4K, false},
		{"8K", "", true},
		{"large", "", true},
	}
	for _, tt := range tests {
		got, err := ParseImageSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseImageSize(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseImageSize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToHistory(t *testing.T) {
	msgs := []ChatMessage{
		{ID: "welcome", Role: RoleModel, Text: "Hi there!"},
		{ID: "1", Role: RoleUser, Text: "Tell me about dragons"},
	}
	history := ToHistory(msgs)
	if len(history) != 2 {
		t.Fatalf("len = %d", len(history))
	}
	if history[0].Role != RoleModel || history[0].Parts[0] != "Hi there!" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != RoleUser || history[1].Parts[0] != "Tell me about dragons" {
		t.Errorf("history[1] = %+v", history[1])
	}
}

func TestRequestValidation(t *testing.T) {
	if err := (CreateStoryRequest{Topic: "a brave little turtle"}).Validate(); err != nil {
		t.Errorf("valid story request: %v", err)
	}
	if err := (CreateStoryRequest{Topic: "  "}).Validate(); err == nil {
		t.Error("blank topic should fail")
	}
	if err := (CreateStoryRequest{Topic: "cats", ImageSize: "8K"}).Validate(); err == nil {
		t.Error("invalid image size should fail")
	}
	if err := (SendChatRequest{Message: ""}).Validate(); err == nil {
		t.Error("empty chat message should fail")
	}
	if err := (SendChatRequest{Message: "hello"}).Validate(); err != nil {
		t.Errorf("valid chat request: %v", err)
	}
}
