package usecase

import (
	"reflect"
	"testing"
)

func TestBuildSearchQueries(t *testing.T) {
	tests := []struct {
		name       string
		original   string
		expansions []string
		want       []string
	}{
		{
			name:       "appends original",
			original:   "what helps with insomnia",
			expansions: []string{"insomnia treatment", "sleep hygiene"},
			want:       []string{"insomnia treatment", "sleep hygiene", "what helps with insomnia"},
		},
		{
			name:       "keeps first three non blank",
			original:   "q",
			expansions: []string{"a", "", "  ", "b", "c", "d"},
			want:       []string{"a", "b", "c", "q"},
		},
		{
			name:       "original already present",
			original:   "Panic Attacks",
			expansions: []string{"panic attacks ", "panic disorder"},
			want:       []string{"panic attacks", "panic disorder"},
		},
		{
			name:       "duplicates dropped",
			original:   "q",
			expansions: []string{"Stress", "stress", "burnout"},
			want:       []string{"Stress", "burnout", "q"},
		},
		{
			name:       "duplicates do not use up the limit",
			original:   "orig",
			expansions: []string{"a", "A", "b", "c", "d"},
			want:       []string{"a", "b", "c", "orig"},
		},
		{
			name:     "no expansions",
			original: "q",
			want:     []string{"q"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQueries(tt.original, tt.expansions)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("buildSearchQueries() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
