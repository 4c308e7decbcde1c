package query

import (
	"fmt"

	"github.com/asaidimu/go-nakala/core/schema"
)

// compileCtx tracks the model and alias a compiler stage is resolving
// against. Relation traversal produces a new ctx rooted at the join's
// target alias.
type compileCtx struct {
	qb    *QueryBuilder
	ct    *schema.ContentType
	alias string
}

// qualify renders an alias-qualified column reference.
func (c compileCtx) qualify(column string) string {
	return c.alias + "." + column
}

// joinRelation resolves a relation attribute into one or two SQL joins and
// returns the compile context rooted at the relation target. A fresh alias
// is allocated per call; when the relation carries no traversable
// metadata the base context is returned unchanged, signalling that the
// relation cannot be traversed.
func (c compileCtx) joinRelation(attrName string, rel *schema.Relation) (compileCtx, error) {
	target, err := c.qb.resolveTarget(rel.Target)
	if err != nil {
		return c, fmt.Errorf("relation %q: %w", attrName, err)
	}

	switch {
	case rel.IsMorph() && rel.Morph != nil:
		// The target table carries the morph columns directly: a single
		// join constrained by the type discriminator.
		alias := c.qb.nextAlias()
		c.qb.addJoin(&Join{
			Method: JoinLeft,
			Alias:  alias,
			Table:  target.TableName,
			On: []JoinColumnPair{{
				From: c.qualify(schema.ColumnID),
				To:   rel.Morph.IDColumn,
			}},
			Static:     map[string]any{rel.Morph.TypeColumn: c.ct.UID},
			Relational: true,
		})
		return compileCtx{qb: c.qb, ct: target, alias: alias}, nil

	case rel.IsMorph() && rel.JoinTable != nil:
		return c.joinThroughPivot(target, rel.JoinTable, true)

	case rel.JoinColumn != nil:
		alias := c.qb.nextAlias()
		c.qb.addJoin(&Join{
			Method: JoinLeft,
			Alias:  alias,
			Table:  target.TableName,
			On: []JoinColumnPair{{
				From: c.qualify(rel.JoinColumn.Name),
				To:   rel.JoinColumn.ReferencedColumn,
			}},
			Relational: true,
		})
		return compileCtx{qb: c.qb, ct: target, alias: alias}, nil

	case rel.JoinTable != nil:
		return c.joinThroughPivot(target, rel.JoinTable, false)

	default:
		// Inverse side with no metadata of its own: not traversable.
		return c, nil
	}
}

// joinThroughPivot plans the two-join pivot traversal: source to pivot,
// then pivot to target. Morph pivots additionally constrain the pivot's
// type discriminator column to the source uid.
func (c compileCtx) joinThroughPivot(target *schema.ContentType, jt *schema.JoinTable, morph bool) (compileCtx, error) {
	pivotAlias := c.qb.nextAlias()
	pivot := &Join{
		Method: JoinLeft,
		Alias:  pivotAlias,
		Table:  jt.Name,
		On: []JoinColumnPair{{
			From: c.qualify(jt.JoinColumn.ReferencedColumn),
			To:   jt.JoinColumn.Name,
		}},
	}
	if len(jt.On) > 0 || morph {
		pivot.Static = make(map[string]any, len(jt.On)+1)
		for col, v := range jt.On {
			pivot.Static[col] = v
		}
		if morph {
			pivot.Static[jt.JoinColumn.Name+"_type"] = c.ct.UID
		}
	}
	if jt.OrderColumnName != "" {
		pivot.OrderBy = []OrderEntry{{Column: pivotAlias + "." + jt.OrderColumnName, Order: "asc"}}
	}
	c.qb.addJoin(pivot)

	targetAlias := c.qb.nextAlias()
	c.qb.addJoin(&Join{
		Method: JoinLeft,
		Alias:  targetAlias,
		Table:  target.TableName,
		On: []JoinColumnPair{{
			From: pivotAlias + "." + jt.InverseJoinColumn.Name,
			To:   jt.InverseJoinColumn.ReferencedColumn,
		}},
		Relational: true,
	})
	return compileCtx{qb: c.qb, ct: target, alias: targetAlias}, nil
}

// resolveTarget looks up a relation target as a model first and as a
// component second, so component pivots and regular relations share the
// same planner.
func (qb *QueryBuilder) resolveTarget(uid string) (*schema.ContentType, error) {
	if ct, err := qb.registry.GetModel(uid); err == nil {
		return ct, nil
	}
	return qb.registry.GetComponentModel(uid)
}

func (qb *QueryBuilder) nextAlias() string {
	alias := fmt.Sprintf("t%d", qb.aliasCounter)
	qb.aliasCounter++
	return alias
}

func (qb *QueryBuilder) addJoin(j *Join) {
	qb.joins = append(qb.joins, j)
}

// joinByAlias returns the planned join owning the given alias.
func (qb *QueryBuilder) joinByAlias(alias string) *Join {
	for _, j := range qb.joins {
		if j.Alias == alias {
			return j
		}
	}
	return nil
}
