package domain

import "strings"

// UploadFile is one file of a local folder upload. Path is the file's
// relative path inside the uploaded folder, forward-slash separated.
type UploadFile struct {
	Path string
	Data []byte
}

// RepoSource is the input of one ingestion attempt: a remote repository URL
// or a set of local files. When both are present the URL takes precedence.
type RepoSource struct {
	RepoURL string
	Files   []UploadFile
}

// IsRemote reports whether the source is a repository URL.
func (s RepoSource) IsRemote() bool {
	return strings.TrimSpace(s.RepoURL) != ""
}

// IsEmpty reports whether the source carries neither a URL nor files.
func (s RepoSource) IsEmpty() bool {
	return !s.IsRemote() && len(s.Files) == 0
}

// DisplayName derives the human label for the new session: the repository
// name for URLs, the top-level folder name for uploads.
func (s RepoSource) DisplayName() string {
	if s.IsRemote() {
		url := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(s.RepoURL), "/"), ".git")
		if i := strings.LastIndex(url, "/"); i >= 0 {
			return url[i+1:]
		}
		return url
	}
	if len(s.Files) > 0 {
		path := strings.TrimPrefix(s.Files[0].Path, "/")
		if i := strings.Index(path, "/"); i > 0 {
			return path[:i]
		}
		return path
	}
	return ""
}
