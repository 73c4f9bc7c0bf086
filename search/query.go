package search

import (
	"regexp"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
)

// ErrBadQuery is returned for JSON queries that do not describe a term.
var ErrBadQuery = errors.New("bad search query")

// ParseQuery decodes a term from its JSON form. Each object has exactly one
// key naming the term:
//
//	{"and": [q, ...]}   {"or": [q, ...]}   {"xor": [q, ...]}   {"not": q}
//	{"name": "sub", "case": true}          {"name_re": "^Help"}
//	{"item_name": "FrontPage"}             {"text": "needle", "case": false}
//	{"text_re": "fo+"}                     {"underlay": true}
//	{"meta": {"key": "k", "value": "v"}}   {"has_meta": "k"}
//	{"last_meta": {"key": "k", "value": "v"}}
//	{"last_has_meta": "k"}
//
// "case" is optional and defaults to false.
func ParseQuery(data []byte) (backend.Term, error) {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, errors.Wrap(ErrBadQuery, err.Error())
	}
	return decode(obj)
}

func decode(obj *jason.Object) (backend.Term, error) {
	caseSensitive, _ := obj.GetBoolean("case")
	for key, v := range obj.Map() {
		switch key {
		case "case":
			continue
		case "and", "or", "xor":
			terms, err := decodeList(v)
			if err != nil {
				return nil, err
			}
			switch key {
			case "and":
				return &And{Terms: terms}, nil
			case "or":
				return &Or{Terms: terms}, nil
			}
			return &Xor{Terms: terms}, nil
		case "not":
			sub, err := v.Object()
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, "not")
			}
			term, err := decode(sub)
			if err != nil {
				return nil, err
			}
			return &Not{Term: term}, nil
		case "name":
			s, err := v.String()
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, key)
			}
			return &Name{Needle: s, CaseSensitive: caseSensitive}, nil
		case "text":
			s, err := v.String()
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, key)
			}
			return &Text{Needle: s, CaseSensitive: caseSensitive}, nil
		case "name_re", "text_re":
			s, err := v.String()
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, key)
			}
			re, err := regexp.Compile(s)
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, err.Error())
			}
			if key == "name_re" {
				return &NameRE{Re: re}, nil
			}
			return &TextRE{Re: re}, nil
		case "item_name":
			s, err := v.String()
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, key)
			}
			return &ItemName{Name: s}, nil
		case "has_meta", "last_has_meta":
			s, err := v.String()
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, key)
			}
			if key == "has_meta" {
				return &HasMetaDataKey{Key: s}, nil
			}
			return &LastRevisionHasMetaDataKey{Key: s}, nil
		case "meta", "last_meta":
			sub, err := v.Object()
			if err != nil {
				return nil, errors.Wrap(ErrBadQuery, key)
			}
			k, err1 := sub.GetString("key")
			val, err2 := sub.GetString("value")
			if err1 != nil || err2 != nil {
				return nil, errors.Wrapf(ErrBadQuery, "%s needs key and value", key)
			}
			if key == "meta" {
				return &MetaDataMatch{Key: k, Value: val}, nil
			}
			return &LastRevisionMetaDataMatch{Key: k, Value: val}, nil
		case "underlay":
			return &FromUnderlay{}, nil
		default:
			return nil, errors.Wrapf(ErrBadQuery, "unknown term %q", key)
		}
	}
	return nil, errors.Wrap(ErrBadQuery, "empty term")
}

func decodeList(v *jason.Value) ([]backend.Term, error) {
	vals, err := v.Array()
	if err != nil {
		return nil, errors.Wrap(ErrBadQuery, "expected a list of terms")
	}
	terms := make([]backend.Term, 0, len(vals))
	for _, val := range vals {
		obj, err := val.Object()
		if err != nil {
			return nil, errors.Wrap(ErrBadQuery, "expected a term object")
		}
		term, err := decode(obj)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}
