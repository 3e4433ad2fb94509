package driver

const (
	SavePersonQuery = `
		MERGE (p:Person {id: $id})
		SET p.first_name = $first_name,
			p.last_name = $last_name,
			p.maiden_name = $maiden_name,
			p.middle_name = $middle_name,
			p.gender = $gender,
			p.birth_date = $birth_date,
			p.death_date = $death_date,
			p.birth_place = $birth_place,
			p.death_place = $death_place,
			p.is_living = $is_living,
			p.created_at = $created_at,
			p.merged_into_id = $merged_into_id
		RETURN p.id AS id
	`

	GetPersonQuery = `
		MATCH (p:Person {id: $id})
		RETURN p
	`

	ListPersonsQuery = `
		MATCH (p:Person)
		RETURN p
		ORDER BY p.id
	`

	SaveEdgeQuery = `
		MATCH (a:Person {id: $from_id})
		MATCH (b:Person {id: $to_id})
		MERGE (a)-[e:RELATES {id: $id}]->(b)
		SET e.type_code = $type_code,
			e.half = $half,
			e.in_law = $in_law,
			e.is_ex = $is_ex,
			e.cousin_degree = $cousin_degree,
			e.cousin_removed = $cousin_removed,
			e.marriage_date = $marriage_date,
			e.divorce_date = $divorce_date,
			e.lineage = $lineage,
			e.created_at = $created_at,
			e.inverse_id = $inverse_id
		RETURN e.id AS id
	`

	DeleteEdgeQuery = `
		MATCH ()-[e:RELATES {id: $id}]->()
		DELETE e
	`

	GetEdgeQuery = `
		MATCH (a:Person)-[e:RELATES {id: $id}]->(b:Person)
		RETURN a.id AS from_id, b.id AS to_id, e
	`

	EdgesOfQuery = `
		MATCH (a:Person {id: $person_id})-[e:RELATES]-(b:Person)
		RETURN startNode(e).id AS from_id, endNode(e).id AS to_id, e
		ORDER BY e.id
	`

	SaveDuplicateQuery = `
		MERGE (d:PotentialDuplicate {id: $id})
		SET d.profile_a = $profile_a,
			d.profile_b = $profile_b,
			d.pair_key = $pair_key,
			d.confidence = $confidence,
			d.reasons = $reasons,
			d.shared_relatives = $shared_relatives,
			d.status = $status,
			d.kept_profile_id = $kept_profile_id,
			d.reviewed_by = $reviewed_by,
			d.created_at = $created_at,
			d.resolved_at = $resolved_at
		RETURN d.id AS id
	`

	GetDuplicateQuery = `
		MATCH (d:PotentialDuplicate {id: $id})
		RETURN d
	`

	FindDuplicateQuery = `
		MATCH (d:PotentialDuplicate {pair_key: $pair_key})
		RETURN d
	`

	ListDuplicatesQuery = `
		MATCH (d:PotentialDuplicate)
		WHERE $status = '' OR d.status = $status
		RETURN d
		ORDER BY d.confidence DESC, d.id
	`

	SaveBridgeRequestQuery = `
		MERGE (r:BridgeRequest {id: $id})
		SET r.requester_id = $requester_id,
			r.target_id = $target_id,
			r.claimed_type = $claimed_type,
			r.hint_name = $hint_name,
			r.hint_birth_year = $hint_birth_year,
			r.hint_support = $hint_support,
			r.hint_person_id = $hint_person_id,
			r.status = $status,
			r.established_type = $established_type,
			r.reason = $reason,
			r.created_at = $created_at,
			r.expires_at = $expires_at,
			r.responded_at = $responded_at
		RETURN r.id AS id
	`

	GetBridgeRequestQuery = `
		MATCH (r:BridgeRequest {id: $id})
		RETURN r
	`

	ListBridgeRequestsQuery = `
		MATCH (r:BridgeRequest)
		WHERE $status = '' OR r.status = $status
		RETURN r
		ORDER BY r.created_at
	`

	GetCheckpointQuery = `
		MATCH (c:Checkpoint {name: $name})
		RETURN c.value AS value
	`

	SaveCheckpointQuery = `
		MERGE (c:Checkpoint {name: $name})
		SET c.value = $value
		RETURN c.name AS name
	`
)
