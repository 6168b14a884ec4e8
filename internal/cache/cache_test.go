package cache

import (
	"testing"
	"time"

	"github.com/devserver-emu/devserver/utils"
)

func TestSetGetDelete(t *testing.T) {
	c := New(NoExpiration, 0, 10)

	c.Set("k", "v", DefaultExpiration)
	v, found := c.Get("k")
	utils.AssertTrue(t, found)
	utils.AssertEquals(t, "v", v.(string))

	c.Delete("k")
	_, found = c.Get("k")
	utils.AssertFalse(t, found)
}

func TestExpiration(t *testing.T) {
	c := New(NoExpiration, 0, 10)

	c.Set("short", "v", 20*time.Millisecond)
	c.Set("long", "v", NoExpiration)

	time.Sleep(40 * time.Millisecond)
	_, found := c.Get("short")
	utils.AssertFalse(t, found)
	_, found = c.Get("long")
	utils.AssertTrue(t, found)

	c.DeleteExpired()
	utils.AssertEquals(t, 1, c.Len())
}

func TestLRUReplacementWhenFull(t *testing.T) {
	c := New(NoExpiration, 0, 2)

	c.Set("a", 1, NoExpiration)
	time.Sleep(2 * time.Millisecond)
	c.Set("b", 2, NoExpiration)
	time.Sleep(2 * time.Millisecond)

	// touching "a" makes "b" the least recently used
	_, found := c.Get("a")
	utils.AssertTrue(t, found)

	c.Set("c", 3, NoExpiration)
	utils.AssertEquals(t, 2, c.Len())
	_, found = c.Get("b")
	utils.AssertFalse(t, found)
	_, found = c.Get("a")
	utils.AssertTrue(t, found)
	_, found = c.Get("c")
	utils.AssertTrue(t, found)
}

func TestReplaceExistingKeyDoesNotEvict(t *testing.T) {
	c := New(NoExpiration, 0, 2)
	c.Set("a", 1, NoExpiration)
	c.Set("b", 2, NoExpiration)
	c.Set("a", 10, NoExpiration)

	utils.AssertEquals(t, 2, c.Len())
	v, found := c.Get("a")
	utils.AssertTrue(t, found)
	utils.AssertEquals(t, 10, v.(int))
}

func TestFlush(t *testing.T) {
	c := New(NoExpiration, 0, 10)
	c.Set("a", 1, NoExpiration)
	c.Set("b", 2, NoExpiration)
	c.Flush()
	utils.AssertEquals(t, 0, c.Len())
}
