// Package kindmap validates the static resourceQueryMapping
// configuration against a live cluster once at startup: a
// group/version/resource the cluster does not serve, or a cluster
// below a kind's minimum server version, is a fatal ConfigInvalid
// failure before the process starts serving. Address and port paths
// are not checked.
package kindmap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/nitecon/director/internal/core"
)

// Mapping is the immutable resourceType -> core.KindSpec table loaded
// once from configuration. It never changes at runtime.
type Mapping map[string]core.KindSpec

// Lookup returns the KindSpec for resourceType, or
// core.ErrUnknownResourceType if it is not configured.
func (m Mapping) Lookup(resourceType string) (core.KindSpec, error) {
	spec, ok := m[resourceType]
	if !ok {
		return core.KindSpec{}, &core.ErrUnknownResourceType{ResourceType: resourceType}
	}
	return spec, nil
}

// Validate checks every entry of mapping against live cluster
// discovery: the group/version/resource triple must exist and — when a
// kind declares a minimum server version — the cluster must meet it.
// The first such failure is wrapped as a core.ErrConfigInvalid. The
// OpenAPI schema lookup is also attempted; a failure there is logged
// and is not fatal.
func Validate(ctx context.Context, discovery core.DiscoveryClient, mapping Mapping) error {
	log := slog.Default().With("component", "kindmap")

	var serverVersion *semver.Version
	if needsVersionCheck(mapping) {
		info, err := discovery.ServerVersion(ctx)
		if err != nil {
			return &core.ErrConfigInvalid{Reason: fmt.Sprintf("fetch server version: %s", err)}
		}
		v, err := semver.NewVersion(info.String())
		if err != nil {
			return &core.ErrConfigInvalid{Reason: fmt.Sprintf("parse server version %q: %s", info.String(), err)}
		}
		serverVersion = v
	}

	for resourceType, spec := range mapping {
		gvr, err := discovery.LookupResource(ctx, spec.Group, spec.Version, spec.Resource)
		if err != nil {
			return &core.ErrConfigInvalid{
				Reason: fmt.Sprintf("resourceQueryMapping[%s]: %s/%s/%s not served by cluster: %s",
					resourceType, spec.Group, spec.Version, spec.Resource, err),
			}
		}

		if _, err := discovery.ResolveSchema(ctx, gvr.Group, gvr.Version, kindFromResource(spec.Resource)); err != nil {
			log.Warn("openapi schema did not resolve, address/port paths will not be statically checked",
				"resourceType", resourceType, "error", err)
		}

		if spec.MinServerVersion != "" {
			required, err := semver.NewVersion(spec.MinServerVersion)
			if err != nil {
				return &core.ErrConfigInvalid{
					Reason: fmt.Sprintf("resourceQueryMapping[%s]: invalid minServerVersion %q: %s", resourceType, spec.MinServerVersion, err),
				}
			}
			if serverVersion.LessThan(required) {
				return &core.ErrConfigInvalid{
					Reason: fmt.Sprintf("resourceQueryMapping[%s]: cluster version %s below required %s", resourceType, serverVersion, required),
				}
			}
		}

		log.Info("kind-map entry validated", "resourceType", resourceType, "gvr", gvr.String())
	}

	return nil
}

func needsVersionCheck(mapping Mapping) bool {
	for _, spec := range mapping {
		if spec.MinServerVersion != "" {
			return true
		}
	}
	return false
}

// kindFromResource passes the plural resource name through unchanged
// as the Kind (e.g. "pods" -> "pods"); ResolveSchema failures here
// are logged, not fatal, since OpenAPI kind naming is irregular and
// this check is a diagnostic aid, not an authoritative gate.
func kindFromResource(resource string) string {
	return resource
}
