package domain

import "testing"

func TestRepoSourceDisplayName(t *testing.T) {
	tests := []struct {
		name string
		src  RepoSource
		want string
	}{
		{
			name: "https url",
			src:  RepoSource{RepoURL: "https://github.com/acme/widgets"},
			want: "widgets",
		},
		{
			name: "url with git suffix",
			src:  RepoSource{RepoURL: "https://github.com/acme/widgets.git"},
			want: "widgets",
		},
		{
			name: "url with trailing slash",
			src:  RepoSource{RepoURL: "https://github.com/acme/widgets/"},
			want: "widgets",
		},
		{
			name: "local folder",
			src:  RepoSource{Files: []UploadFile{{Path: "widgets/cmd/main.go"}}},
			want: "widgets",
		},
		{
			name: "single file upload",
			src:  RepoSource{Files: []UploadFile{{Path: "main.go"}}},
			want: "main.go",
		},
		{
			name: "url beats files",
			src: RepoSource{
				RepoURL: "https://github.com/acme/widgets",
				Files:   []UploadFile{{Path: "other/main.go"}},
			},
			want: "widgets",
		},
		{
			name: "empty",
			src:  RepoSource{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.DisplayName(); got != tt.want {
				t.Fatalf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRepoSourceEmptiness(t *testing.T) {
	if !(RepoSource{}).IsEmpty() {
		t.Fatal("IsEmpty() = false for zero source")
	}
	if (RepoSource{RepoURL: "  "}).IsRemote() {
		t.Fatal("IsRemote() = true for blank URL")
	}
	if (RepoSource{Files: []UploadFile{{Path: "a"}}}).IsEmpty() {
		t.Fatal("IsEmpty() = true for file source")
	}
}
