package capability

import (
	"testing"

	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/utils"
)

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("enabled")
	utils.AssertNil(t, err)
	utils.AssertEquals(t, StatusEnabled, s)

	s, err = ParseStatus("DISABLED")
	utils.AssertNil(t, err)
	utils.AssertEquals(t, StatusDisabled, s)

	_, err = ParseStatus("sometimes")
	utils.AssertNonNil(t, err)
}

func TestStatusFallbacks(t *testing.T) {
	e := NewEnvironment()
	utils.AssertTrue(t, e.Enabled("memcache", "Get"))

	e.SetStatus("memcache.Get", StatusDisabled)
	utils.AssertFalse(t, e.Enabled("memcache", "Get"))
	utils.AssertTrue(t, e.Enabled("memcache", "Set"))

	// the package-wide wildcard covers methods without their own entry
	e.SetStatus("datastore.*", StatusScheduledMaintenance)
	utils.AssertFalse(t, e.Enabled("datastore", "Put"))
	utils.AssertEquals(t, StatusScheduledMaintenance, e.StatusOf("datastore", "Put"))

	// a method entry wins over the wildcard
	e.SetStatus("datastore.Get", StatusEnabled)
	utils.AssertTrue(t, e.Enabled("datastore", "Get"))
}

func TestNewEnvironmentFromConfig(t *testing.T) {
	config.Set(config.CAPABILITY_PREFIX+".blobstore.*", "DISABLED")
	e, err := NewEnvironmentFromConfig()
	utils.AssertNil(t, err)
	utils.AssertFalse(t, e.Enabled("blobstore", "Fetch"))
	utils.AssertTrue(t, e.Enabled("memcache", "Get"))

	config.Set(config.CAPABILITY_PREFIX+".images.Resize", "garbage")
	_, err = NewEnvironmentFromConfig()
	utils.AssertNonNil(t, err)
}
