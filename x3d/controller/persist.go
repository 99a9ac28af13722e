// Copyright 2024 by Sven Fabricius, see LICENSE file

package controller

import "github.com/mr-sven/x3d-rfm-esp32/x3d/cache"

// LoadPersisted restores both networks' slot types from store at boot (§3,
// §6). A store failure is never fatal (§7 error kind 6: "persistence
// failure — treated as empty; never fatal"); it is logged and that
// network is left all-NONE.
func (c *Controller) LoadPersisted() {
	for idx := byte(0); idx < cache.NetworkCount; idx++ {
		blob, err := c.store.Load(idx)
		if err != nil {
			c.log("controller: persistence load network %d: %v", idx, err)
			continue
		}
		for slot := 0; slot < cache.SlotCount; slot++ {
			if err := c.cache.Pair(idx, slot, cache.Type(blob[slot])); err != nil {
				c.log("controller: restoring slot %d/%d: %v", idx, slot, err)
			}
		}
	}
}

// savePersisted writes network idx's current slot types back to store,
// logging (not failing) on error per §7 error kind 6.
func (c *Controller) savePersisted(idx byte) {
	var blob [cache.SlotCount]byte
	for slot := 0; slot < cache.SlotCount; slot++ {
		d, err := c.cache.Slot(idx, slot)
		if err != nil {
			continue
		}
		blob[slot] = byte(d.Type)
	}
	if err := c.store.Save(idx, blob); err != nil {
		c.log("controller: persistence save network %d: %v", idx, err)
	}
}
