package blob

import (
	"encoding/json"
	"log"

	"github.com/ndlib/wikistore/store"
)

// jsonStore wraps a Store and serializes its values as JSON instead of
// using streams.
type jsonStore struct {
	store.Store
}

// load unserializes the value stored under key into value.
func (js jsonStore) load(key string, value interface{}) error {
	r, _, err := js.Store.Open(key)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(store.NewReader(r))
	err = dec.Decode(value)
	err2 := r.Close()
	if err == nil {
		err = err2
	} else if err2 != nil {
		log.Println(key, err2)
	}
	return err
}

// create stores value under a key that must not exist yet.
func (js jsonStore) create(key string, value interface{}) error {
	w, err := js.Store.Create(key)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	err = enc.Encode(value)
	err2 := w.Close()
	if err == nil {
		err = err2
	} else if err2 != nil {
		log.Println(key, err2)
	}
	if err != nil && err != store.ErrKeyExists {
		js.Store.Delete(key)
	}
	return err
}

// save replaces whatever is stored under key with value.
func (js jsonStore) save(key string, value interface{}) error {
	if err := js.Delete(key); err != nil {
		return err
	}
	return js.create(key, value)
}
