// Package objkey builds and reads the object keys uploads are stored under:
// projects/<project>/<digest>/<filename>.
package objkey

import (
	"mime"
	"path"
	"strings"
)

const prefix = "projects"

// Build places an upload under its project and digest so re-uploads of
// identical bytes land on the same key.
func Build(projectID, digest, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return path.Join(prefix, projectID, digest, name)
}

// Parse splits a key produced by Build. ok is false for any other layout.
func Parse(key string) (projectID, digest, filename string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != prefix {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// ContentType guesses the MIME type from the key's extension. CAD, BIM and
// schedule exports have no registered type and fall back to octet-stream.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".dwg":
		return "image/vnd.dwg"
	case ".dxf":
		return "image/vnd.dxf"
	case ".ifc":
		return "application/x-step"
	case ".msg":
		return "application/vnd.ms-outlook"
	}
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Metadata is the user metadata attached to a stored object.
func Metadata(key string) map[string]string {
	projectID, digest, _, ok := Parse(key)
	if !ok {
		return nil
	}
	return map[string]string{"project": projectID, "sha256": digest}
}
