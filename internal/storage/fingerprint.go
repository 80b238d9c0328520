package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/inferloop/aidrin/pkg/models"
)

// AnonymousScope is used when a request carries no user identity.
const AnonymousScope = "anonymous"

// Fingerprint identifies one computation: who asked, on which file, for
// which metric and parameters. Parameter keys are sorted so map order does
// not matter; list values are expected to be normalized by the caller.
func Fingerprint(scope, datasetName string, metric models.Metric, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}

	raw := fmt.Sprintf("user:%s|file:%s|%s:%s", normalizeScope(scope), datasetName, metric, strings.Join(pairs, ";"))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RequestFingerprint fingerprints a metric request. The file part carries the
// path as well as the display name, so two uploads sharing a name do not share
// cached reports.
func RequestFingerprint(req *models.MetricRequest) string {
	return Fingerprint(req.Scope, datasetKey(req.File), req.Metric, req.Params())
}

func datasetKey(fd models.FileDescriptor) string {
	name := fd.DisplayName()
	if fd.Path == "" || fd.Path == name {
		return name
	}
	return name + "@" + fd.Path
}

func normalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return AnonymousScope
	}
	return scope
}
